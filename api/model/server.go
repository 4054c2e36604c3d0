package model

import "time"

// Server is a terminal host. Credentials are kept server side only.
type Server struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Username  string    `json:"username" db:"username"`
	IP        string    `json:"ip" db:"ip"`
	Port      int       `json:"port" db:"port"`
	HasKey    bool      `json:"hasKey" db:"-"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	RSAKey   string `json:"-" db:"rsa_key"`
	Password string `json:"-" db:"password"`
}

type ServerInput struct {
	Name     string `json:"name" validate:"required,max=128"`
	Username string `json:"username" validate:"required,username"`
	IP       string `json:"ip" validate:"required,ip|hostname"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	RSAKey   string `json:"rsaKey,omitempty"`
	Password string `json:"password,omitempty"`
}

// ToServer builds a record from input, defaulting the port to 22.
func (in ServerInput) ToServer(id string) *Server {
	port := in.Port
	if port == 0 {
		port = 22
	}
	return &Server{
		ID:       id,
		Name:     in.Name,
		Username: in.Username,
		IP:       in.IP,
		Port:     port,
		HasKey:   in.RSAKey != "",
		RSAKey:   in.RSAKey,
		Password: in.Password,
	}
}
