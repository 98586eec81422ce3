// Package yamlflag provides a command line flag that accepts a YAML document.
package yamlflag

import (
	"encoding/json"
	"flag"
	"os"
	"reflect"
	"strings"

	"github.com/ghodss/yaml"
)

// New creates a flag.Value that recognizes a YAML document.
//
// The YAML document can be specified directly on the command line:
//
//	--config="bufferCount: 16"
//
// Or it can be read from a file, when the flag value starts with '@':
//
//	--config=@tsbridge.yaml
//
// value must be a pointer to a struct containing config sections.
// Panics if value is not a pointer.
func New(value any) flag.Getter {
	if val := reflect.ValueOf(value); val.Kind() != reflect.Ptr {
		panic(val.Kind())
	}
	return &yamlFlagValue{value}
}

type yamlFlagValue struct {
	Value any
}

func (v *yamlFlagValue) Get() any {
	return v.Value
}

func (v *yamlFlagValue) Set(s string) error {
	if filename, ok := strings.CutPrefix(s, "@"); ok {
		file, e := os.ReadFile(filename)
		if e != nil {
			return e
		}
		return yaml.Unmarshal(file, v.Value)
	}
	return yaml.Unmarshal([]byte(s), v.Value)
}

func (v *yamlFlagValue) String() string {
	if v.Value == nil {
		return ""
	}
	j, _ := json.Marshal(v.Value)
	return string(j)
}
