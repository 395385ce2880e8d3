package user

type RegisterDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	URL      string `json:"url"`
}

type LoginDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type SetRoleDTO struct {
	Role string `json:"role" binding:"required"`
}

type SetTrustedDTO struct {
	Trusted bool `json:"trusted"`
}
