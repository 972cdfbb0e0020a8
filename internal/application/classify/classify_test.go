package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/doeshing/cmdrelay/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want domain.Category
	}{
		{"empty", "", domain.CategoryError},
		{"blank", "   \n\t", domain.CategoryError},
		{"error colon", "Error: file not found", domain.CategoryError},
		{"error space", "error something broke", domain.CategoryError},
		{"hungarian synonym", "Hiba: nem található", domain.CategoryError},
		{"exception", "EXCEPTION: boom", domain.CategoryError},
		{"failed", "failed to connect", domain.CategoryError},
		{"sikertelen", "sikertelen: x", domain.CategoryError},
		{"bare error word", "ERROR", domain.CategoryUnknown},
		{"error prefix wins over json", `Error in JSON: {"error": "test"}`, domain.CategoryError},
		{"cmd prefix only", "CMD:", domain.CategoryEcho},
		{"cmd echo", "CMD: echo hi", domain.CategoryEcho},
		{"echo prefix wins over json", `CMD: {"json": true}`, domain.CategoryEcho},
		{"output prefix", "OUTPUT: done", domain.CategoryEcho},
		{"response prefix", "RESPONSE: ok", domain.CategoryEcho},
		{"replay prefix", "REPLAY:1", domain.CategoryEcho},
		{"def", "def main():\n    pass", domain.CategoryCode},
		{"class", "class Foo:\n    pass", domain.CategoryCode},
		{"import", "import os", domain.CategoryCode},
		{"from", "from os import path", domain.CategoryCode},
		{"decorator", "@app.route('/')", domain.CategoryCode},
		{"code wins over error word", "def error_func(): raise Error", domain.CategoryCode},
		{"python mention", "Here is python code", domain.CategoryCode},
		{"python after lookahead", "This sentence is long enough before python", domain.CategoryUnknown},
		{"python fence", "```python\nprint(\"Hello\")\n```", domain.CategoryCode},
		{"fenced json is code", "```json\n{\"test\": true}\n```", domain.CategoryCode},
		{"inline fence", "```ls -la```", domain.CategoryCode},
		{"empty fence", "```\n```", domain.CategoryUnknown},
		{"bare fence", "```", domain.CategoryUnknown},
		{"tag only fence", "```bash", domain.CategoryUnknown},
		{"empty object", "{}", domain.CategoryJSON},
		{"empty array", "[]", domain.CategoryJSON},
		{"object", `{"status": "ok", "n": 1}`, domain.CategoryJSON},
		{"padded array", "  [1, 2, 3]  ", domain.CategoryJSON},
		{"broken json", `{"status": }`, domain.CategoryUnknown},
		{"plain text", "hi", domain.CategoryUnknown},
		{"html comment", "<!-- -->", domain.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestClassifyValue(t *testing.T) {
	assert.Equal(t, domain.CategoryError, ClassifyValue(nil))
	assert.Equal(t, domain.CategoryError, ClassifyValue(42))
	assert.Equal(t, domain.CategoryError, ClassifyValue(map[string]string{}))
	assert.Equal(t, domain.CategoryError, ClassifyValue([]byte("{}")), "raw bytes are not text")
	assert.Equal(t, domain.CategoryEcho, ClassifyValue("ECHO: x"))
}

func TestClassify_NeverPanicsOnInvalidUTF8(t *testing.T) {
	assert.NotPanics(t, func() {
		Classify("\xff\xfe python \xff")
		Classify(string([]byte{0x80, 0x81, 0x82}))
	})
}
