package oci

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Descriptor is a content-addressed reference to a blob or manifest.
//
// The declared field order is the canonical JSON field order; the digests of
// serialized manifests and indexes depend on it staying put.
//
// https://github.com/opencontainers/image-spec/blob/main/descriptor.md
type Descriptor struct {
	Digest       digest.Digest     `json:"digest"`
	Size         int64             `json:"size"`
	MediaType    string            `json:"mediaType"`
	URLs         []string          `json:"urls,omitempty"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	ArtifactType string            `json:"artifactType,omitempty"`

	// Data optionally carries the referenced bytes in memory, so that a
	// push does not have to re-fetch them.  It is never serialized.
	Data []byte `json:"-"`
}

// Push uploads the descriptor's bytes as a blob of repository name.  Data
// must be populated.
func (d *Descriptor) Push(ctx context.Context, client *Client, name string) error {
	if d.Data == nil {
		return fmt.Errorf("descriptor %s: no data to push", d.Digest)
	}
	return client.PushBlob(ctx, name, d.Data, d.Digest)
}

// Pull fetches the referenced bytes from repository name and caches them in
// Data.
func (d *Descriptor) Pull(ctx context.Context, client *Client, name string) ([]byte, error) {
	data, err := client.PullBlob(ctx, name, d.Digest)
	if err != nil {
		return nil, err
	}
	d.Data = data
	return data, nil
}

// EmptyConfig returns the descriptor of the canonical empty JSON blob, used
// as the config of every pyoci manifest.
//
// https://github.com/opencontainers/image-spec/blob/main/manifest.md#guidance-for-an-empty-descriptor
func EmptyConfig() Descriptor {
	data := []byte("{}")
	return Descriptor{
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
		MediaType: ocispec.MediaTypeEmptyJSON,
		Data:      data,
	}
}

// NewLayer builds a layer blob holding content.  The layer media type is the
// artifact type with a "+gzip" suffix.
func NewLayer(content []byte, artifactType string) (Descriptor, error) {
	zipped, err := GzipDeterministic(content)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Digest:    digest.FromBytes(zipped),
		Size:      int64(len(zipped)),
		MediaType: artifactType + "+gzip",
		Data:      zipped,
	}, nil
}

// canonicalJSON is the single serialization choke-point for digest-bearing
// objects.  encoding/json emits struct fields in declared order and omitempty
// drops absent optionals, which is exactly the stability contract the digests
// rely on.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
