// Package pyoci publishes Python distribution files into OCI registries as
// OCI artifacts, and lists and pulls them back out.
//
// A package file maps onto the registry as follows: the file bytes become a
// single gzipped layer of an image manifest with an empty config, the
// manifest is filed under the file's architecture in the image index of its
// version, and the index is tagged with the version (with "+" mapped to "-").
package pyoci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"

	"github.com/pyoci/pyoci/pkg/oci"
	"github.com/pyoci/pyoci/pkg/python/distfile"
)

// ArtifactType marks manifests published by pyoci.  Pull refuses manifests
// carrying anything else.
const ArtifactType = "application/pyoci.package.v1"

var (
	// ErrUnknownPackage indicates that no manifest exists for the requested
	// architecture of a version.
	ErrUnknownPackage = errors.New("unknown package")

	// ErrUnknownArtifactType indicates a manifest that exists but was not
	// published by pyoci.
	ErrUnknownArtifactType = errors.New("unknown artifact type")
)

// Publish pushes the distribution file at path into the registry under
// namespace.
func Publish(ctx context.Context, client *oci.Client, path, namespace string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return PublishBytes(ctx, client, filepath.Base(path), namespace, content)
}

// PublishBytes publishes a distribution file that is already in memory,
// keyed by its filename.
func PublishBytes(ctx context.Context, client *oci.Client, filename, namespace string, content []byte) error {
	pkg, err := distfile.Parse(namespace, filename)
	if err != nil {
		return err
	}
	dlog.Infof(ctx, "publishing %s", pkg)

	index, err := oci.PullIndex(ctx, client, pkg.OCIName(), pkg.OCIReference(), ArtifactType)
	if err != nil {
		return err
	}

	layer, err := oci.NewLayer(content, ArtifactType)
	if err != nil {
		return err
	}
	manifest := oci.NewManifest(ArtifactType)
	manifest.Layers = append(manifest.Layers, layer)

	if err := index.AddManifest(ctx, manifest, pkg.Platform()); err != nil {
		return err
	}
	return index.Push(ctx, client)
}

// ListVersion returns one Name per architecture published for pkg's version.
func ListVersion(ctx context.Context, client *oci.Client, pkg distfile.Name) ([]distfile.Name, error) {
	index, err := oci.PullIndex(ctx, client, pkg.OCIName(), pkg.OCIReference(), ArtifactType)
	if err != nil {
		return nil, err
	}
	files := make([]distfile.Name, 0, len(index.Manifests))
	for _, pd := range index.Manifests {
		if pd.Platform == nil {
			continue
		}
		file, err := pkg.WithArchitecture(pd.Platform.Architecture)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

// List returns every published file of a package, across all versions.  The
// result is the flat product of the repository's tags and the architectures
// recorded in each tag's index.
func List(ctx context.Context, client *oci.Client, pkg distfile.Name) ([]distfile.Name, error) {
	tags, err := client.List(ctx, pkg.OCIName())
	if err != nil {
		return nil, err
	}
	var files []distfile.Name
	for _, tag := range tags {
		versionFiles, err := ListVersion(ctx, client, pkg.WithOCIReference(tag))
		if err != nil {
			return nil, err
		}
		files = append(files, versionFiles...)
	}
	return files, nil
}

// Pull fetches the file pkg refers to and returns its bytes.
func Pull(ctx context.Context, client *oci.Client, pkg distfile.Name) ([]byte, error) {
	index, err := oci.PullIndex(ctx, client, pkg.OCIName(), pkg.OCIReference(), ArtifactType)
	if err != nil {
		return nil, err
	}
	var desc *oci.PlatformDescriptor
	for i := range index.Manifests {
		pd := &index.Manifests[i]
		if pd.Platform != nil && pd.Platform.Architecture == pkg.Architecture {
			desc = pd
			break
		}
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPackage, pkg)
	}

	manifest, err := oci.ManifestFromDescriptor(ctx, client, index.Name, desc.Descriptor)
	if err != nil {
		return nil, err
	}
	if manifest.ArtifactType != ArtifactType {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArtifactType, manifest.ArtifactType)
	}
	if len(manifest.Layers) == 0 {
		return nil, fmt.Errorf("manifest for %s has no layers", pkg)
	}

	blob, err := manifest.Layers[0].Pull(ctx, client, index.Name)
	if err != nil {
		return nil, err
	}
	return oci.Gunzip(blob)
}
