package config

import "github.com/harborops/go-session-kit/providers"

type AuthConfig interface {
	GetEmployeeIssuer() string
	GetEmployeeClientID() string
	GetCustomerIssuer() string
	GetCustomerClientID() string
	GetProviderRegistry() *providers.Registry
}

type Auth struct{}

var _ AuthConfig = Auth{}

func (Auth) GetEmployeeIssuer() string {
	return GetEnv("EMPLOYEE_ISSUER", "")
}

func (Auth) GetEmployeeClientID() string {
	return GetEnv("EMPLOYEE_CLIENT_ID", "")
}

func (Auth) GetCustomerIssuer() string {
	return GetEnv("CUSTOMER_ISSUER", "")
}

func (Auth) GetCustomerClientID() string {
	return GetEnv("CUSTOMER_CLIENT_ID", "")
}

// GetProviderRegistry assembles the two independent provider tracks. The
// employee and customer tracks carry their own issuer and client id and
// never substitute for each other.
func (a Auth) GetProviderRegistry() *providers.Registry {
	return &providers.Registry{
		Employee: providers.Config{
			Issuer:   a.GetEmployeeIssuer(),
			ClientID: a.GetEmployeeClientID(),
		},
		Customer: providers.Config{
			Issuer:   a.GetCustomerIssuer(),
			ClientID: a.GetCustomerClientID(),
		},
	}
}
