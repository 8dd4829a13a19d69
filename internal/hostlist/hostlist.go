// Package hostlist loads the bootstrap host file: a JSON array of
// "host:port" strings consulted by the swimring facade's Bootstrap at
// startup when no host list was configured directly.
package hostlist

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultPath is the file consulted when no path is configured
// explicitly.
const DefaultPath = "./hosts.json"

// Load reads path as a JSON array of bootstrap host addresses. A
// missing file is not an error -- it returns an empty list, since a
// node can also be handed its bootstrap hosts directly.
func Load(path string) ([]string, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hostlist: read %s: %w", path, err)
	}

	var hosts []string
	if err := json.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("hostlist: parse %s: %w", path, err)
	}
	return hosts, nil
}
