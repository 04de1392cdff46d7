package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/keycodec"
)

// Store is the persistence surface the orchestrator consumes. The on-disk
// format belongs to the store; callers only see normalised wallets.
type Store interface {
	// LoadParent returns the parent wallet for a user, or an error when none
	// is saved (ErrNotFound for FileStore). When address is empty the most
	// recently saved parent is used.
	LoadParent(userID string, address string) (*Wallet, error)
	// LoadChildren returns the canonical child list for a parent, in order.
	LoadChildren(parentAddress string, userID string) ([]Wallet, error)
	// SaveParent persists a parent wallet. Write-through; the core does not
	// read its own writes.
	SaveParent(w *Wallet, userID string) error
	// SaveChildren persists the child list for a parent.
	SaveChildren(parentAddress string, wallets []Wallet, userID string) error
}

// ErrNotFound is returned when no wallet document exists for the query.
var ErrNotFound = errors.New("wallet not found")

// FileStore keeps one JSON document per parent wallet under
// <root>/<userID>/, children embedded. Secret keys are normalised to base58
// on load, so stores written by older tooling with base64 keys keep working.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// parentDoc is the on-disk layout.
type parentDoc struct {
	Parent   Wallet   `json:"parent"`
	Children []Wallet `json:"children"`
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wallet store dir: %w", err)
	}
	return &FileStore{root: dir, logger: logger.Named("walletstore")}, nil
}

func (s *FileStore) userDir(userID string) string {
	return filepath.Join(s.root, userID)
}

func (s *FileStore) docPath(userID, parentAddress string) string {
	return filepath.Join(s.userDir(userID), parentAddress+".json")
}

// LoadParent implements Store.
func (s *FileStore) LoadParent(userID string, address string) (*Wallet, error) {
	if address != "" {
		doc, err := s.readDoc(userID, address)
		if err != nil {
			return nil, err
		}
		return &doc.Parent, nil
	}

	// No address given: pick the most recently modified document.
	entries, err := os.ReadDir(s.userDir(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read wallet store: %w", err)
	}

	type candidate struct {
		name string
		mod  int64
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{e.Name(), info.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod > candidates[j].mod })

	addr := candidates[0].name[:len(candidates[0].name)-len(".json")]
	doc, err := s.readDoc(userID, addr)
	if err != nil {
		return nil, err
	}
	return &doc.Parent, nil
}

// LoadChildren implements Store.
func (s *FileStore) LoadChildren(parentAddress string, userID string) ([]Wallet, error) {
	doc, err := s.readDoc(userID, parentAddress)
	if err != nil {
		return nil, err
	}
	return doc.Children, nil
}

// SaveParent implements Store.
func (s *FileStore) SaveParent(w *Wallet, userID string) error {
	if err := w.Validate(); err != nil {
		return err
	}

	doc, err := s.readDoc(userID, w.Address)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if doc == nil {
		doc = &parentDoc{}
	}
	doc.Parent = *w
	return s.writeDoc(userID, w.Address, doc)
}

// SaveChildren implements Store.
func (s *FileStore) SaveChildren(parentAddress string, wallets []Wallet, userID string) error {
	doc, err := s.readDoc(userID, parentAddress)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		doc = &parentDoc{Parent: Wallet{Address: parentAddress}}
	}
	doc.Children = wallets
	return s.writeDoc(userID, parentAddress, doc)
}

func (s *FileStore) readDoc(userID, parentAddress string) (*parentDoc, error) {
	data, err := os.ReadFile(s.docPath(userID, parentAddress))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read wallet document: %w", err)
	}

	var doc parentDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode wallet document: %w", err)
	}

	s.normalise(&doc.Parent)
	for i := range doc.Children {
		s.normalise(&doc.Children[i])
		if doc.Children[i].Index == 0 && i != 0 {
			doc.Children[i].Index = i
		}
	}
	return &doc, nil
}

// normalise converts a stored secret key to its canonical base58 form.
// Wallets whose key cannot be normalised keep working read-only.
func (s *FileStore) normalise(w *Wallet) {
	if w.SecretKey == "" {
		return
	}
	canonical, err := keycodec.ToCanonical(w.SecretKey)
	if err != nil {
		s.logger.Warn("Dropping unusable secret key",
			zap.String("wallet", keycodec.Mask(w.Address)),
			zap.Error(err))
		w.SecretKey = ""
		return
	}
	w.SecretKey = canonical
}

func (s *FileStore) writeDoc(userID, parentAddress string, doc *parentDoc) error {
	if err := os.MkdirAll(s.userDir(userID), 0o755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode wallet document: %w", err)
	}

	path := s.docPath(userID, parentAddress)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write wallet document: %w", err)
	}

	s.logger.Debug("Wallet document saved",
		zap.String("parent", keycodec.Mask(parentAddress)),
		zap.Int("children", len(doc.Children)))
	return nil
}
