package llm

import (
	"encoding/json"
	"errors"
	"regexp"
)

var (
	fenceRe         = regexp.MustCompile("```(?:json)?\\n?")
	jsonObjectRe    = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ErrNoJSON means the model output contained no JSON object.
var ErrNoJSON = errors.New("no JSON object found in model output")

// ExtractJSON finds the outermost JSON object in model output and decodes it into v.
// Code fences are stripped and a second attempt drops trailing commas.
func ExtractJSON(text string, v any) error {
	text = fenceRe.ReplaceAllString(text, "")
	obj := jsonObjectRe.FindString(text)
	if obj == "" {
		return ErrNoJSON
	}
	err := json.Unmarshal([]byte(obj), v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed := trailingCommaRe.ReplaceAllString(obj, "$1")
	return json.Unmarshal([]byte(fixed), v)
}
