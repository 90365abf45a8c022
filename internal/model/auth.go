package model

// LoginRequest is the payload for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required,min=1,max=150"`
	Password string `json:"password" binding:"required,min=1,max=128"`
}

// LoginResponse is returned by the backend after a successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID FlexID `json:"user_id"`
	Role   Role   `json:"role"`
}

// RegisterRequest is the payload for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=150"`
	Password string `json:"password" binding:"required,min=6,max=128"`
	Email    string `json:"email" binding:"required,email"`
	FullName string `json:"full_name" binding:"required,min=2,max=100"`
	Role     Role   `json:"role" binding:"required,oneof=student teacher"`
}

// RegisterResponse is returned by the backend after registration.
type RegisterResponse struct {
	ID      FlexID `json:"id"`
	Message string `json:"message"`
}

// MessageResponse is the generic {message} body.
type MessageResponse struct {
	Message string `json:"message"`
}
