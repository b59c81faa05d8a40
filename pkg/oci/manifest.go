package oci

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Manifest is an OCI image manifest, specialized to how pyoci uses it: the
// config is always the empty JSON blob and the layers hold exactly one
// package file.
//
// https://github.com/opencontainers/image-spec/blob/main/manifest.md
type Manifest struct {
	Config        Descriptor        `json:"config"`
	ArtifactType  string            `json:"artifactType,omitempty"`
	Layers        []Descriptor      `json:"layers"`
	Subject       *Descriptor       `json:"subject,omitempty"`
	Annotations   map[string]string `json:"annotations,omitempty"`
	MediaType     string            `json:"mediaType"`
	SchemaVersion int               `json:"schemaVersion"`
}

// NewManifest returns an empty manifest for the given artifact type, with
// the empty-JSON config already in place.
func NewManifest(artifactType string) *Manifest {
	return &Manifest{
		Config:        EmptyConfig(),
		ArtifactType:  artifactType,
		Layers:        []Descriptor{},
		MediaType:     ocispec.MediaTypeImageManifest,
		SchemaVersion: 2,
	}
}

// Descriptor derives the manifest's own descriptor from its canonical JSON
// encoding.  The encoded bytes are carried in Data so the manifest can be
// pushed without re-encoding.
func (m *Manifest) Descriptor() (Descriptor, error) {
	data, err := canonicalJSON(m)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
		MediaType: m.MediaType,
		Data:      data,
	}, nil
}

// ManifestFromDescriptor loads the manifest desc refers to, from desc.Data
// when present, from the registry otherwise.
func ManifestFromDescriptor(ctx context.Context, client *Client, name string, desc Descriptor) (*Manifest, error) {
	data := desc.Data
	if data == nil {
		var err error
		data, err = client.PullManifest(ctx, name, desc.Digest.String(), desc.MediaType)
		if err != nil {
			return nil, err
		}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", desc.Digest, err)
	}
	return &m, nil
}

// Push uploads the manifest's config and layer blobs, then the manifest
// itself addressed by digest.  Registries reject manifests whose referenced
// blobs don't exist yet, so the order is load-bearing.
func (m *Manifest) Push(ctx context.Context, client *Client, name string) error {
	if err := m.Config.Push(ctx, client, name); err != nil {
		return err
	}
	for i := range m.Layers {
		if err := m.Layers[i].Push(ctx, client, name); err != nil {
			return err
		}
	}
	desc, err := m.Descriptor()
	if err != nil {
		return err
	}
	return client.PushManifestByDigest(ctx, name, desc.MediaType, desc.Data, desc.Digest)
}
