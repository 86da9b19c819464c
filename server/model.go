package server

// UserInfo contains the public-facing identity fields returned from
// /api/user. Claim data never appears in error responses.
type UserInfo struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// NewUserInfo projects a verified claim set onto the response shape.
// Username falls back to the subject identifier when the token
// carries none.
func NewUserInfo(claims *IdentityClaims) UserInfo {
	username := claims.Username
	if username == "" {
		username = claims.Subject
	}
	return UserInfo{
		ID:       claims.Subject,
		Email:    claims.Email,
		Username: username,
		Role:     claims.Role,
	}
}
