package config

import "strings"

// Resolve loads credentials for the named profile, or the active credentials
// when profile is empty. Optional OD_* secrets apply in both cases.
func Resolve(profile string) (Account, error) {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return LoadAccount()
	}
	account, err := LoadProfile(profile)
	if err != nil {
		return Account{}, err
	}
	applyOptionalEnv(&account)
	return account, nil
}

// Redacted returns a copy safe to print: secrets keep only their last four characters.
func (a Account) Redacted() Account {
	a.APIKey = redact(a.APIKey)
	a.SnapshotToken = redact(a.SnapshotToken)
	a.ResendAPIKey = redact(a.ResendAPIKey)
	if a.PostgresDSN != "" {
		a.PostgresDSN = "(set)"
	}
	return a
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
