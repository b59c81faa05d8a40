package oci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/datawire/dlib/dlog"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Platform describes what a manifest applies to.  pyoci carries the Python
// compatibility tail of the filename in Architecture and pins OS to the
// sentinel "any"; the OCI-level platform semantics don't apply.
//
// https://github.com/opencontainers/image-spec/blob/main/image-index.md
type Platform struct {
	Architecture string   `json:"architecture"`
	OS           string   `json:"os"`
	OSVersion    string   `json:"osVersion,omitempty"`
	OSFeatures   []string `json:"osFeatures,omitempty"`
	Variant      string   `json:"variant,omitempty"`
}

// PlatformDescriptor is a manifest descriptor annotated with its platform.
// Until the index it belongs to has been pushed, it also transiently owns the
// Manifest it was derived from, so Index.Push can upload the manifest before
// the index that references it.
type PlatformDescriptor struct {
	Descriptor
	Platform *Platform `json:"platform,omitempty"`

	manifest *Manifest
}

func platformDescriptorFromManifest(m *Manifest, platform Platform) (PlatformDescriptor, error) {
	desc, err := m.Descriptor()
	if err != nil {
		return PlatformDescriptor{}, err
	}
	return PlatformDescriptor{
		Descriptor: desc,
		Platform:   &platform,
		manifest:   m,
	}, nil
}

// Index is an OCI image index grouping the manifests of one package version,
// one per architecture.
//
// https://github.com/opencontainers/image-spec/blob/main/image-index.md
type Index struct {
	// Name and Reference address the index in the registry.  They are not
	// part of the serialized document.
	Name      string `json:"-"`
	Reference string `json:"-"`

	ArtifactType  string               `json:"artifactType,omitempty"`
	Manifests     []PlatformDescriptor `json:"manifests"`
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType"`
}

// NewIndex returns an empty index for the given coordinates.
func NewIndex(name, reference, artifactType string) *Index {
	return &Index{
		Name:          name,
		Reference:     reference,
		ArtifactType:  artifactType,
		Manifests:     []PlatformDescriptor{},
		SchemaVersion: 2,
		MediaType:     ocispec.MediaTypeImageIndex,
	}
}

// AddManifest records manifest in the index under platform, keeping at most
// one entry per architecture.  Re-adding identical content is a no-op
// replacement; different content replaces the existing entry with a warning,
// since republishing an architecture of a version is taken as intent to
// overwrite it.
func (idx *Index) AddManifest(ctx context.Context, m *Manifest, platform Platform) error {
	pd, err := platformDescriptorFromManifest(m, platform)
	if err != nil {
		return err
	}
	for i := range idx.Manifests {
		existing := &idx.Manifests[i]
		if existing.Platform == nil || existing.Platform.Architecture != platform.Architecture {
			continue
		}
		if existing.Digest != pd.Digest {
			dlog.Warnf(ctx, "%q-%q-%q already exists with different content, overwriting",
				idx.Name, idx.Reference, platform.Architecture)
		} else {
			dlog.Infof(ctx, "%q-%q-%q already exists, skipping",
				idx.Name, idx.Reference, platform.Architecture)
		}
		*existing = pd
		return nil
	}
	idx.Manifests = append(idx.Manifests, pd)
	return nil
}

// PullIndex fetches the index tagged reference from the registry.  When the
// registry has no such tag, it returns a fresh empty index: a first-time
// publish must not fail for lack of history.  Every other failure propagates;
// treating a transient error as "no prior index" would rebuild the index from
// scratch and erase the architectures already published under the tag.
func PullIndex(ctx context.Context, client *Client, name, reference, artifactType string) (*Index, error) {
	idx := NewIndex(name, reference, artifactType)
	data, err := client.PullManifest(ctx, name, reference, "")
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			dlog.Debugf(ctx, "no existing index for %s:%s, starting fresh", name, reference)
			return idx, nil
		}
		return nil, err
	}
	var pulled Index
	if err := json.Unmarshal(data, &pulled); err != nil {
		return nil, fmt.Errorf("index %s:%s: %w", name, reference, err)
	}
	if pulled.MediaType != ocispec.MediaTypeImageIndex {
		return nil, fmt.Errorf("index %s:%s: expected %q, got %q",
			name, reference, ocispec.MediaTypeImageIndex, pulled.MediaType)
	}
	idx.Manifests = pulled.Manifests
	idx.SchemaVersion = pulled.SchemaVersion
	if pulled.ArtifactType != "" {
		idx.ArtifactType = pulled.ArtifactType
	}
	return idx, nil
}

// Descriptor derives the index's own descriptor from its canonical JSON
// encoding.
func (idx *Index) Descriptor() (Descriptor, error) {
	data, err := canonicalJSON(idx)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
		MediaType: idx.MediaType,
		Data:      data,
	}, nil
}

// Push uploads any member manifests still held in memory, then the index
// itself under its reference tag.  The tag is last-writer-wins; callers that
// need linearizable index updates must serialize at a higher layer.
func (idx *Index) Push(ctx context.Context, client *Client) error {
	for i := range idx.Manifests {
		if m := idx.Manifests[i].manifest; m != nil {
			if err := m.Push(ctx, client, idx.Name); err != nil {
				return err
			}
		}
	}
	desc, err := idx.Descriptor()
	if err != nil {
		return err
	}
	return client.PushManifest(ctx, idx.Name, idx.Reference, desc.MediaType, desc.Data)
}
