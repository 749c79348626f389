package model

import "time"

// User is the stored identity record. PasswordHash is always Hash(password, Salt).
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	Salt         []byte    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PublicUser is the user shape returned to clients.
type PublicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type PublicUserList struct {
	Users []PublicUser `json:"users"`
}

// RefreshToken is the per-user session record. At most one exists per UserID.
type RefreshToken struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthClaims are the verified contents of an access token.
type AuthClaims struct {
	UserID    string    `json:"sub"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`

	// UserID is the subject the pair was issued to. It stays server side.
	UserID string `json:"-"`
}

// ProfileUpdate carries the mutable user fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Password  *string
}
