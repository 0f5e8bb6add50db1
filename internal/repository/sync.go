package repository

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/network"
)

// Transport is the "simple pull/push interface" spec §1 treats as an
// external collaborator: the repository engine never drives its own
// mirroring protocol, it only fetches and publishes opaque bytes keyed by
// archive id or object hash through whatever transport the caller wires in.
type Transport interface {
	// FetchManifest returns the raw JSON manifest bytes for archiveID.
	FetchManifest(ctx context.Context, archiveID string) (io.ReadCloser, error)
	// FetchObject returns the raw sealed chunk bytes stored under hash.
	FetchObject(ctx context.Context, hash string) (io.ReadCloser, error)
	// PushObject publishes the raw sealed chunk bytes stored under hash.
	PushObject(ctx context.Context, hash string, body io.Reader) error
}

// HTTPTransport is the reference Transport: archives and objects are GET
// from (and PUT to) baseURL + "/archives/<id>.json" and
// baseURL + "/objects/<first two hex digits of hash>/<hash>" (the layout of
// a local repository's objects directory) over a TLS-hardened client, since this
// repository has no remote peer of its own to test against in this corpus.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport builds an HTTPTransport against baseURL using the same
// TLS/timeout policy every other HTTPS caller in this module is expected to
// use for mirroring archives.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{BaseURL: baseURL, Client: network.NewSecureHTTPClient()}
}

func (t *HTTPTransport) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindNetworkUnreachable, "build request for "+url, err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindNetworkUnreachable, "fetch "+url, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, insecaerr.New(insecaerr.KindArchiveMissing, "remote has no object at "+url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, insecaerr.New(insecaerr.KindNetworkUnreachable, "unexpected status fetching "+url)
	}
	return resp.Body, nil
}

func (t *HTTPTransport) FetchManifest(ctx context.Context, archiveID string) (io.ReadCloser, error) {
	return t.get(ctx, t.BaseURL+"/archives/"+archiveID+".json")
}

func (t *HTTPTransport) FetchObject(ctx context.Context, hash string) (io.ReadCloser, error) {
	return t.get(ctx, t.BaseURL+"/objects/"+hash[:2]+"/"+hash)
}

func (t *HTTPTransport) PushObject(ctx context.Context, hash string, body io.Reader) error {
	url := t.BaseURL + "/objects/" + hash[:2] + "/" + hash
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindNetworkUnreachable, "build request for "+url, err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindNetworkUnreachable, "push "+url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return insecaerr.New(insecaerr.KindNetworkUnreachable, "unexpected status pushing "+url)
	}
	return nil
}

// Pull mirrors archiveID from t: it fetches the manifest (if not already
// present locally) and every chunk object it references that this
// repository doesn't already hold, storing each verbatim under its
// content-addressed object path. Already-present objects are never
// refetched, matching the chunk-level deduplication CreateArchive already
// performs locally. Objects stay sealed under the remote's master key, so
// they are readable only when this repository's key file wraps that same
// key.
func (r *Repo) Pull(ctx context.Context, t Transport, archiveID string) error {
	manifestPath := filepath.Join(r.dir, "archives", archiveID+".json")
	if _, err := os.Stat(manifestPath); err != nil {
		body, err := t.FetchManifest(ctx, archiveID)
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			return insecaerr.Wrap(insecaerr.KindNetworkUnreachable, "read manifest "+archiveID, err)
		}
		if err := os.MkdirAll(filepath.Dir(manifestPath), 0o700); err != nil {
			return insecaerr.Wrap(insecaerr.KindFilesystemError, "create archives dir", err)
		}
		if err := os.WriteFile(manifestPath, raw, 0o600); err != nil {
			return insecaerr.Wrap(insecaerr.KindFilesystemError, "write manifest "+archiveID, err)
		}
	}

	m, err := r.loadManifest(archiveID)
	if err != nil {
		return err
	}
	for _, fe := range m.Files {
		for _, hash := range fe.ChunkHashes {
			if err := r.pullObject(ctx, t, hash); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repo) pullObject(ctx context.Context, t Transport, hash string) error {
	path := r.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	body, err := t.FetchObject(ctx, hash)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create objects dir", err)
	}
	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create object "+hash, err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return insecaerr.Wrap(insecaerr.KindNetworkUnreachable, "download object "+hash, err)
	}
	if err := out.Close(); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "finalize object "+hash, err)
	}
	return os.Rename(tmp, path)
}

// Resync re-fetches every segment path Check reported broken, overwriting
// the corrupted local copy with a fresh one pulled through t. This is the
// "rewind its mtime and resynchronise" step of spec §4.9's Testable
// Scenario 4, applied to every archive that references a broken object
// rather than a single one.
func (r *Repo) Resync(ctx context.Context, t Transport, broken []string) error {
	for _, path := range broken {
		hash := filepath.Base(path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return insecaerr.Wrap(insecaerr.KindFilesystemError, "remove broken object "+path, err)
		}
		if err := r.pullObject(ctx, t, hash); err != nil {
			return err
		}
	}
	return nil
}
