package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.NAME}} references in raw YAML with the value
// of the NAME environment variable. Server config and pack files carry
// literal dollar signs in guardrail regex patterns and webhook URLs, so
// the shell-style $NAME form is deliberately not recognized.
//
// A name with no variable set expands to the empty string; required-field
// validation surfaces those downstream. Input that does not parse as a
// template comes back unchanged so the YAML decoder reports the real
// position of the problem.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("expand").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, environMap()); err != nil {
		return data
	}
	return out.Bytes()
}

func environMap() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok && name != "" {
			env[name] = value
		}
	}
	return env
}
