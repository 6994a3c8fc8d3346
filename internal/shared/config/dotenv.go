package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadEnvFiles loads KEY=VALUE pairs from the given files if they exist.
// Keys already present in the environment win. Errors are ignored.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, val, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
			val = strings.Trim(strings.TrimSpace(val), `"`)
			setIfUnset(key, val)
		}
		_ = f.Close()
	}
}

// loadYAMLFile reads a flat YAML mapping of env keys and applies every key
// not already set. Nested maps are flattened with "_" and upper-cased, so
//
//	sandbox:
//	  timeout: 45s
//
// becomes SANDBOX_TIMEOUT=45s.
func loadYAMLFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	flat := map[string]string{}
	flattenYAML("", doc, flat)
	for key, val := range flat {
		setIfUnset(key, val)
	}
	return nil
}

func flattenYAML(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := strings.ToUpper(strings.TrimSpace(k))
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			flattenYAML(key, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

func setIfUnset(key, val string) {
	if key == "" {
		return
	}
	if _, ok := os.LookupEnv(key); ok {
		return
	}
	os.Setenv(key, val)
}
