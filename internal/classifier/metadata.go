package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Metadata is the subset of a model's metadata.json the runtime relies on.
type Metadata struct {
	ModelName string   `json:"modelName,omitempty"`
	Labels    []string `json:"labels"`
}

const metadataFile = "metadata.json"

// FetchMetadata reads metadata.json from a URL prefix or a local directory.
func FetchMetadata(ctx context.Context, client *http.Client, source string) (Metadata, error) {
	var (
		data []byte
		err  error
	)
	if isRemote(source) {
		data, err = fetchRemote(ctx, client, joinURL(source, metadataFile))
	} else {
		data, err = os.ReadFile(filepath.Join(source, metadataFile))
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read model metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode model metadata: %w", err)
	}
	return meta, nil
}

func fetchRemote(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model host returned status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func joinURL(base, name string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + name
}
