package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// AnonymousUsername is reported for connections that presented no token.
const AnonymousUsername = "anonymous"

// Identity is who a connection speaks for, as decided at handshake time.
type Identity struct {
	UserID        int64
	Username      string
	Authenticated bool
}

func Anonymous() Identity {
	return Identity{Username: AnonymousUsername}
}

func IdentityOf(u *User) Identity {
	return Identity{UserID: u.ID, Username: u.Username, Authenticated: true}
}
