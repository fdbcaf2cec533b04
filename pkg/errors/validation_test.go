package errors

import (
	"testing"
)

func TestValidateSessionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "capture", false},
		{"valid with dash", "my-pipeline", false},
		{"valid with underscore", "my_pipeline", false},
		{"valid with dot", "run.2", false},
		{"valid uuid", "0b6f7c1e-8a34-4a07-9f0c-3d1f0c9d7b21", false},

		{"empty", "", true},
		{"too long", strings128() + "x", true},
		{"path traversal ..", "foo..bar", true},
		{"slash", "foo/bar", true},
		{"backslash", "foo\\bar", true},
		{"colon", "redis:key", true},
		{"null byte", "foo\x00bar", true},
		{"newline", "foo\nbar", true},
		{"leading dot", ".hidden", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && GetCode(err) != ErrCodeInvalidInput {
				t.Errorf("code = %v, want %v", GetCode(err), ErrCodeInvalidInput)
			}
		})
	}
}

func TestValidateListenAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"loopback", "127.0.0.1:9870", false},
		{"all interfaces", ":8080", false},
		{"hostname", "localhost:9870", false},
		{"ipv6", "[::1]:9870", false},
		{"ephemeral", "127.0.0.1:0", false},

		{"empty", "", true},
		{"missing port", "127.0.0.1", true},
		{"bad port", "127.0.0.1:http", true},
		{"port out of range", "127.0.0.1:70000", true},
		{"bad host", "bad_host!:80", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateListenAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateListenAddress(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func strings128() string {
	b := make([]byte, 128)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
