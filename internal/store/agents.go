package store

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"perp-engine/pkg/types"
)

// AgentStore is the per-user agent-credential persistence contract
// (spec.md §4.9 / §3). AgentKey is encrypted at rest — JSONAgentStore never
// writes plaintext key material to disk.
type AgentStore interface {
	Get(wallet string) (types.AgentCredential, bool, error)
	Put(wallet string, cred types.AgentCredential) error
}

// agentRecord is the on-disk shape: everything plaintext except the key,
// which is replaced by its AEAD-sealed form.
type agentRecord struct {
	UserWallet     string `json:"userWallet"`
	AgentAddress   string `json:"agentAddress"`
	AgentName      string `json:"agentName"`
	EncryptedKey   string `json:"encryptedAgentKey"` // base64: nonce || ciphertext || tag
	ApprovedAtUnix int64  `json:"approvedAt"`
}

// JSONAgentStore implements AgentStore as a single JSON file mapping
// lowercased wallet address to agentRecord, with the agent signing key
// sealed via XChaCha20-Poly1305.
type JSONAgentStore struct {
	path string
	aead []byte // raw 32-byte key; chacha20poly1305.NewX constructs the cipher per call
	mu   sync.Mutex
}

// NewJSONAgentStore opens (creating if absent) agents.json under dir,
// sealing/opening AgentKey material with the given 32-byte encryption key.
func NewJSONAgentStore(dir string, encryptionKey []byte) (*JSONAgentStore, error) {
	if len(encryptionKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("store: agent encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(encryptionKey))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &JSONAgentStore{path: filepath.Join(dir, "agents.json"), aead: encryptionKey}, nil
}

func (s *JSONAgentStore) seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.aead)
	if err != nil {
		return "", fmt.Errorf("store: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("store: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *JSONAgentStore) open(encoded string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.aead)
	if err != nil {
		return "", fmt.Errorf("store: init cipher: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("store: decode sealed key: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("store: sealed key too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("store: decrypt agent key: %w", err)
	}
	return string(plaintext), nil
}

func (s *JSONAgentStore) readAllLocked() (map[string]agentRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]agentRecord{}, nil
		}
		return nil, fmt.Errorf("store: read agents: %w", err)
	}
	out := map[string]agentRecord{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: unmarshal agents: %w", err)
	}
	return out, nil
}

func (s *JSONAgentStore) writeAllLocked(all map[string]agentRecord) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal agents: %w", err)
	}
	return atomicWrite(s.path, data)
}

// Get decrypts and returns a user's agent credential, with ok=false if none
// is on record.
func (s *JSONAgentStore) Get(wallet string) (types.AgentCredential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAllLocked()
	if err != nil {
		return types.AgentCredential{}, false, err
	}
	rec, ok := all[strings.ToLower(wallet)]
	if !ok {
		return types.AgentCredential{}, false, nil
	}
	key, err := s.open(rec.EncryptedKey)
	if err != nil {
		return types.AgentCredential{}, false, err
	}
	return types.AgentCredential{
		UserWallet:   rec.UserWallet,
		AgentAddress: rec.AgentAddress,
		AgentKey:     key,
		AgentName:    rec.AgentName,
		ApprovedAt:   time.Unix(rec.ApprovedAtUnix, 0).UTC(),
	}, true, nil
}

// Put seals cred.AgentKey and writes the record. Concurrent writers for the
// same wallet serialize last-writer-wins via the store's mutex.
func (s *JSONAgentStore) Put(wallet string, cred types.AgentCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAllLocked()
	if err != nil {
		return err
	}
	sealed, err := s.seal(cred.AgentKey)
	if err != nil {
		return err
	}
	all[strings.ToLower(wallet)] = agentRecord{
		UserWallet:     cred.UserWallet,
		AgentAddress:   cred.AgentAddress,
		AgentName:      cred.AgentName,
		EncryptedKey:   sealed,
		ApprovedAtUnix: cred.ApprovedAt.Unix(),
	}
	return s.writeAllLocked(all)
}
