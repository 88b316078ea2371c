package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{"flag", "--no-source-map", false},
		{"load path", "--load-path=src/sass", false},
		{"relative file", "src/sass/main.scss", false},
		{"stdin", "--stdin", false},
		{"semicolon", "main.scss; rm -rf /", true},
		{"pipe", "main.scss | cat", true},
		{"backtick", "`whoami`", true},
		{"subshell", "$(whoami)", true},
		{"traversal", "../../etc/passwd", true},
		{"absolute", "/home/user/main.scss", true},
		{"system binary", "/usr/bin/sass", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	allowed := map[string]bool{"sass": true, "postcss": true}

	assert.NoError(t, ValidateCommand("sass", allowed))
	assert.NoError(t, ValidateCommand("postcss", allowed))
	assert.ErrorContains(t, ValidateCommand("", allowed), "empty")
	assert.ErrorContains(t, ValidateCommand("rm", allowed), "not allowed")
	assert.Error(t, ValidateCommand("sass;rm", map[string]bool{"sass;rm": true}))
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"localhost", "http://localhost:3000", ""},
		{"ip", "http://127.0.0.1:3000/", ""},
		{"https", "https://quelle.test/index.php", ""},
		{"file scheme", "file:///etc/passwd", "scheme"},
		{"javascript", "javascript:alert(1)", "scheme"},
		{"injection", "http://localhost:3000/;rm -rf", "dangerous"},
		{"newline", "http://localhost:3000/\nx", "invalid URL"},
		{"space", "http://localhost:3000/a b", "dangerous"},
		{"no host", "http:///path", "hostname"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func FuzzValidateURL(f *testing.F) {
	for _, seed := range []string{"http://localhost:3000", "https://a.test/x?y=1", "http://a;b", "ftp://x"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, input string) {
		if ValidateURL(input) != nil {
			return
		}
		for _, char := range urlReject {
			assert.NotContains(t, input, char)
		}
	})
}
