// Package keylist supplies the literal key list the pool is seeded from.
package keylist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var defaultKeys = []string{
	"kL8!p@3Qz#mR9$W", "T5^fG7vY*2qPx!N", "#9Hj$B4nL6@kXpM", "s3$KpL!8mZ2@rF9",
	"Q@6dN9#vP4!xL7T", "2W!e8R$pY5#kL9M", "g7@Xm!3PqL9$zN4", "F5#tH9$kL2!pR7@",
	"n4!Lp@8mK3#zQ6T", "R7$kP9!xL2@mN5#", "M3@qL!9tP5#kX8$", "Z2!wL7$pN4@kR9#",
	"9L#kP5!mX3@tN7$", "p4$mL8!kQ3#zR9@", "T6#kX9$pL2!mN7@", "B3@mN7!kL4#pQ9$",
	"K5!tL9$pR2@mN7#", "L8#kP3!mX6$qN9@", "N2$mL7!kQ4#pR9@", "X5!kL9$pM3@tN7#",
	"P4@mN7!kL2#qR9$", "Q3!tL8$pK6#mN9@", "R7#kP9!mL4$zN2@", "S5$mL8!kN3@pQ9#",
	"W2!kL7$pN4#mR9@",
}

// Default returns a copy of the built-in key list.
func Default() []string {
	out := make([]string, len(defaultKeys))
	copy(out, defaultKeys)
	return out
}

// LoadFile reads and parses a key list from disk.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key list: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes a key list. Names ending in .yaml or .yml are YAML, either a
// bare sequence or a mapping with a "keys" sequence. Anything else is plain
// text with one key per line; blank lines and comment lines ("#" alone or
// "# " followed by text) are skipped, so keys may themselves start with '#'.
// The result is validated before it is returned.
func Parse(name string, data []byte) ([]string, error) {
	var keys []string
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var err error
		if keys, err = parseYAML(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		keys = parseLines(data)
	}
	if err := Validate(keys); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return keys, nil
}

// Validate rejects empty lists, blank entries and duplicates.
func Validate(keys []string) error {
	if len(keys) == 0 {
		return errors.New("key list is empty")
	}
	seen := make(map[string]int, len(keys))
	for i, k := range keys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("key %d is blank", i+1)
		}
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("key %d duplicates key %d", i+1, prev+1)
		}
		seen[k] = i
	}
	return nil
}

func parseYAML(data []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var keys []string
		if err := root.Decode(&keys); err != nil {
			return nil, err
		}
		return keys, nil
	case yaml.MappingNode:
		var doc struct {
			Keys []string `yaml:"keys"`
		}
		if err := root.Decode(&doc); err != nil {
			return nil, err
		}
		return doc.Keys, nil
	default:
		return nil, errors.New("expected a sequence or a mapping with a keys sequence")
	}
}

func parseLines(data []byte) []string {
	var keys []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == "#" || strings.HasPrefix(line, "# ") {
			continue
		}
		keys = append(keys, line)
	}
	return keys
}
