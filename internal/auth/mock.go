package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/taxipool/internal/kv"
)

const mockUsersKey = "gtx_users"

// Login failures surfaced directly to the UI.
var (
	ErrUnknownUser   = errors.New("등록되지 않은 아이디예요")
	ErrWrongPassword = errors.New("비밀번호가 올바르지 않아요")
	ErrDuplicateID   = errors.New("이미 사용 중인 아이디예요")
)

type mockUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Gender   string `json:"gender"`
	SMS      bool   `json:"sms"`
	Terms    bool   `json:"terms"`
}

// MockRegistry is the offline login backend: a seeded user list in the kv
// store, used when no remote auth API is configured.
type MockRegistry struct {
	store kv.Store
	vault *Vault
}

func NewMockRegistry(store kv.Store, vault *Vault) *MockRegistry {
	return &MockRegistry{store: store, vault: vault}
}

// Seed installs the default mock accounts once; an existing list is kept.
func (r *MockRegistry) Seed(ctx context.Context) error {
	if _, ok, err := r.store.Get(ctx, mockUsersKey); err != nil || ok {
		return err
	}
	return r.writeUsers(ctx, []mockUser{
		{ID: "test1", Name: "테스트1", Password: "1111", Gender: "M", Terms: true},
		{ID: "kim", Name: "김고고", Password: "1234", Gender: "F", SMS: true, Terms: true},
	})
}

// Login checks credentials against the registry and, on success, stores the
// user and a locally minted token in the vault.
func (r *MockRegistry) Login(ctx context.Context, id, password string) (*User, error) {
	users, err := r.readUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID != id {
			continue
		}
		if u.Password != password {
			return nil, ErrWrongPassword
		}
		user := User{ID: u.ID, Name: u.Name, Gender: u.Gender}
		if err := r.vault.SetCurrentUser(ctx, user); err != nil {
			return nil, err
		}
		if err := r.vault.SetTokens(ctx, mintLocalToken(), ""); err != nil {
			return nil, err
		}
		return &user, nil
	}
	return nil, ErrUnknownUser
}

// Register adds a new mock account. The id must be unused.
func (r *MockRegistry) Register(ctx context.Context, id, password, name, gender string) error {
	users, err := r.readUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.ID == id {
			return ErrDuplicateID
		}
	}
	users = append(users, mockUser{ID: id, Name: name, Password: password, Gender: gender, Terms: true})
	return r.writeUsers(ctx, users)
}

// Logout clears tokens and the current user.
func (r *MockRegistry) Logout(ctx context.Context) error {
	if err := r.vault.ClearTokens(ctx); err != nil {
		return err
	}
	return r.vault.ClearCurrentUser(ctx)
}

func (r *MockRegistry) readUsers(ctx context.Context) ([]mockUser, error) {
	raw, ok, err := r.store.Get(ctx, mockUsersKey)
	if err != nil || !ok {
		return nil, err
	}
	var users []mockUser
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, nil
	}
	return users, nil
}

func (r *MockRegistry) writeUsers(ctx context.Context, users []mockUser) error {
	raw, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("marshal mock users: %w", err)
	}
	return r.store.Set(ctx, mockUsersKey, string(raw))
}

func mintLocalToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "local-" + hex.EncodeToString(b)
}
