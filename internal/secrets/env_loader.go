package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// FileLoader returns a Loader reading KEY=VALUE lines from path. Blank lines
// and lines starting with '#' are skipped. A missing file yields no values.
func FileLoader(path string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		if path == "" {
			return vals, nil
		}
		f, err := os.Open(path) //nolint:gosec // operator-supplied path
		if errors.Is(err, fs.ErrNotExist) {
			return vals, nil
		}
		if err != nil {
			return nil, fmt.Errorf("open secrets file: %w", err)
		}
		defer func() { _ = f.Close() }()

		sc := bufio.NewScanner(f)
		for n := 1; sc.Scan(); n++ {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				return nil, fmt.Errorf("secrets file %s:%d: expected KEY=VALUE", path, n)
			}
			vals[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
		return vals, nil
	}
}

// Chain merges loaders in order; later loaders override earlier ones.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		for _, l := range loaders {
			m, err := l()
			if err != nil {
				return nil, err
			}
			for k, v := range m {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
