package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Rooms     RoomsConfig  `mapstructure:"rooms"`
	Portal    PortalConfig `mapstructure:"portal"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int `mapstructure:"maxPerIP"` // 0 disables the limiter
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// RoomsConfig declares which room names are access-controlled and the role
// required to join them. Room names absent from the map are open.
type RoomsConfig struct {
	Protected map[string]string `mapstructure:"protected"`
}

// PortalConfig seeds the development credentials for the two login routes.
type PortalConfig struct {
	Admin   CredentialConfig `mapstructure:"admin"`
	Student CredentialConfig `mapstructure:"student"`
}

type CredentialConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}
