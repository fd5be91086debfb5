package model

// Defaults applied when an account is created without explicit values.
const (
	DefaultAccountName = "User"
	DefaultAccountRole = "student"
	DefaultTokenLimit  = int64(100000)
)

type Account struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	TokenLimit int64  `json:"token_limit"`
	TokenUsed  int64  `json:"token_used"`
}

// Remaining may be negative when the account is over quota.
func (a Account) Remaining() int64 {
	return a.TokenLimit - a.TokenUsed
}

type CreateAccountParams struct {
	ID         string
	Name       string
	Role       string
	TokenLimit int64
}

type UpdateAccountParams struct {
	Name       *string
	Role       *string
	TokenLimit *int64
	TokenUsed  *int64
}
