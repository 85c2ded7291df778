package llm

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"mailengine/internal/apperr"
	"mailengine/internal/eventbus"
	"mailengine/internal/logging"
)

// ModelDescriptor is one entry in the curated catalog, matching ModelOption
// in original_source/src-tauri/src/llm/model_manager.rs.
type ModelDescriptor struct {
	ID            string
	Name          string
	Repo          string
	Filename      string
	SizeMB        int
	Description   string
	MinRAMGB      int
	TokensPerSec  string
}

// CuratedModels is the fixed catalog get_available_models() returns.
var CuratedModels = []ModelDescriptor{
	{
		ID: "lfm2.5-1.2b-q4", Name: "LFM2.5 1.2B (Recommended)",
		Repo: "LiquidAI/LFM2.5-1.2B-Instruct-GGUF", Filename: "LFM2.5-1.2B-Instruct-Q4_K_M.gguf",
		SizeMB: 731, Description: "Fastest, most efficient. Great for email tasks.",
		MinRAMGB: 2, TokensPerSec: "200+ tok/s",
	},
	{
		ID: "lfm2.5-1.2b-q8", Name: "LFM2.5 1.2B High Quality",
		Repo: "LiquidAI/LFM2.5-1.2B-Instruct-GGUF", Filename: "LFM2.5-1.2B-Instruct-Q8_0.gguf",
		SizeMB: 1250, Description: "Higher quality, still very fast.",
		MinRAMGB: 4, TokensPerSec: "150+ tok/s",
	},
	{
		ID: "qwen2.5-3b-q4", Name: "Qwen 2.5 3B",
		Repo: "Qwen/Qwen2.5-3B-Instruct-GGUF", Filename: "qwen2.5-3b-instruct-q4_k_m.gguf",
		SizeMB: 2000, Description: "Larger model, better reasoning.",
		MinRAMGB: 8, TokensPerSec: "70-90 tok/s",
	},
}

func descriptorByID(id string) (ModelDescriptor, bool) {
	for _, m := range CuratedModels {
		if m.ID == id {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}

// ModelManager downloads GGUF weights into a fixed cache directory and
// tracks which are present on disk, the Go counterpart to ModelManager in
// model_manager.rs (hf-hub's blocking downloader replaced by a plain
// net/http streaming GET with progress callbacks, since this engine has no
// hf-hub equivalent in the Go ecosystem).
type ModelManager struct {
	dir string
	bus *eventbus.Bus
	log *logging.Logger

	mu     sync.Mutex
	active string
}

func NewModelManager(dir string, bus *eventbus.Bus) *ModelManager {
	return &ModelManager{dir: dir, bus: bus, log: logging.New("llm.models")}
}

func (m *ModelManager) ListAvailable() []ModelDescriptor {
	return CuratedModels
}

func (m *ModelManager) path(id string) (string, error) {
	desc, ok := descriptorByID(id)
	if !ok {
		return "", apperr.Wrap(apperr.ErrNotFound, "unknown model %s", id)
	}
	return filepath.Join(m.dir, desc.Filename), nil
}

func (m *ModelManager) ListDownloaded() ([]ModelDescriptor, error) {
	var downloaded []ModelDescriptor
	for _, desc := range CuratedModels {
		path := filepath.Join(m.dir, desc.Filename)
		if _, err := os.Stat(path); err == nil {
			downloaded = append(downloaded, desc)
		}
	}
	return downloaded, nil
}

// FindAnyDownloaded returns the first curated model present on disk,
// matching find_any_downloaded_model's "start with whatever is already
// there" fallback used at process boot.
func (m *ModelManager) FindAnyDownloaded() (ModelDescriptor, bool) {
	downloaded, _ := m.ListDownloaded()
	if len(downloaded) == 0 {
		return ModelDescriptor{}, false
	}
	return downloaded[0], true
}

// Download streams a model's weights to the cache directory, publishing
// model:progress/complete/error the way SPEC_FULL.md's LLM Runtime section
// requires.
func (m *ModelManager) Download(id string) error {
	desc, ok := descriptorByID(id)
	if !ok {
		return apperr.Wrap(apperr.ErrNotFound, "unknown model %s", id)
	}

	dest, err := m.path(id)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://huggingface.co/%s/resolve/main/%s", desc.Repo, desc.Filename)

	resp, err := http.Get(url)
	if err != nil {
		m.bus.Publish(eventbus.TopicModelError, map[string]string{"model_id": id, "error": err.Error()})
		return apperr.Wrap(apperr.ErrTransportTransient, "downloading %s", id)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.bus.Publish(eventbus.TopicModelError, map[string]string{"model_id": id, "error": resp.Status})
		return apperr.Wrap(apperr.ErrTransportTransient, "downloading %s: %s", id, resp.Status)
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return apperr.Wrap(apperr.ErrStorage, "creating model cache dir")
	}
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return apperr.Wrap(apperr.ErrStorage, "creating %s", tmp)
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 256*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				os.Remove(tmp)
				return apperr.Wrap(apperr.ErrStorage, "writing %s", tmp)
			}
			written += int64(n)
			if total > 0 {
				pct := int(float64(written) / float64(total) * 100)
				m.bus.Publish(eventbus.TopicModelProgress, map[string]any{"model_id": id, "percent": pct})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(tmp)
			m.bus.Publish(eventbus.TopicModelError, map[string]string{"model_id": id, "error": readErr.Error()})
			return apperr.Wrap(apperr.ErrTransportTransient, "downloading %s", id)
		}
	}
	f.Close()
	if err := os.Rename(tmp, dest); err != nil {
		return apperr.Wrap(apperr.ErrStorage, "finalizing %s", dest)
	}

	m.bus.Publish(eventbus.TopicModelComplete, map[string]string{"model_id": id})
	return nil
}

// Delete removes a downloaded model's weights, refusing if it is the
// currently active model.
func (m *ModelManager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == id {
		return apperr.Wrap(apperr.ErrBusy, "model %s is active, deactivate first", id)
	}
	path, err := m.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.ErrStorage, "deleting %s", path)
	}
	return nil
}

// SetActive records which model id Runtime currently has loaded, so Delete
// can refuse to remove weights out from under an in-flight generation.
func (m *ModelManager) SetActive(id string) {
	m.mu.Lock()
	m.active = id
	m.mu.Unlock()
}
