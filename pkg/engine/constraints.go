package engine

import (
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/config"
	"github.com/liveclone/gldb/pkg/dataset"
)

// buildConstraints turns cfg.Security into the constraint set a fresh
// Dataset is opened with. Statutory is only wired in when subjects are
// configured; a default config carries no constraints.
func buildConstraints(cfg *config.Config) ([]dataset.Constraint, error) {
	if len(cfg.Security.StatutorySubjects) == 0 {
		return nil, nil
	}

	keyfunc, err := statutoryKeyfunc(cfg.Security.StatutoryVerifyKey)
	if err != nil {
		return nil, clerrors.Wrap(err, "load statutory verify key")
	}

	set := make(map[string]bool, len(cfg.Security.StatutorySubjects))
	for _, iri := range cfg.Security.StatutorySubjects {
		set[iri] = true
	}
	return []dataset.Constraint{&dataset.Statutory{Subjects: set, Keyfunc: keyfunc}}, nil
}

func statutoryKeyfunc(path string) (jwt.Keyfunc, error) {
	if path == "" {
		return nil, clerrors.BadUpdate("security.statutory_verify_key is required when security.statutory_subjects is set")
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, err
	}
	return func(*jwt.Token) (interface{}, error) { return key, nil }, nil
}
