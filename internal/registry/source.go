package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/itsnoxius/mockgate/internal/configclient"
	"github.com/itsnoxius/mockgate/pkg/models"
)

// Source loads the full set of mapping domains
type Source interface {
	Load(ctx context.Context) ([]models.MappingDomain, error)
	String() string
}

// HTTPSource loads domains from the config service
type HTTPSource struct {
	Client *configclient.Client
}

func (s *HTTPSource) Load(ctx context.Context) ([]models.MappingDomain, error) {
	return s.Client.FetchDomains(ctx)
}

func (s *HTTPSource) String() string {
	return s.Client.BaseURL() + "/api/config/mappingDomain"
}

// FileSource loads domains from a local JSON or YAML file that has the same
// shape as the config service response.
type FileSource struct {
	Path string
}

func (s *FileSource) Load(_ context.Context) ([]models.MappingDomain, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", configclient.ErrBadPayload, err)
		}
	}

	var cr models.ConfigResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("%w: %v", configclient.ErrBadPayload, err)
	}
	if !cr.Success {
		return nil, fmt.Errorf("%w: success=false", configclient.ErrBadPayload)
	}
	return cr.Data.MappingDomains, nil
}

func (s *FileSource) String() string {
	return "file://" + s.Path
}

// yamlToJSON re-encodes a YAML document as JSON so mock bodies keep arbitrary shape
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
