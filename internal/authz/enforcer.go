// Package authz decides which logins may check, import or roll back data
// for a destination table.
//
// Requests are evaluated by a casbin enforcer. The subject is the login (or
// "anonymous"), the domain is "<repository>/<project>", the object is
// "<schema>.<table>" and the action is one of check, import, rollback.
// Domains and objects in policies may end with "*".
package authz

import (
	"context"
	"log/slog"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/go-faster/errors"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// Anonymous is the subject used for requests without a login.
const Anonymous = "anonymous"

const modelText = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.dom, p.dom) && keyMatch(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

// Enforcer implements core.Authorizer on a casbin policy file.
type Enforcer struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

// NewEnforcer loads the policy at policyPath.
func NewEnforcer(policyPath string) (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, errors.Wrap(err, "authz: parse model")
	}
	enf, err := casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
	if err != nil {
		return nil, errors.Wrap(err, "authz: initialize enforcer")
	}
	if err := enf.LoadPolicy(); err != nil {
		return nil, errors.Wrap(err, "authz: load policy")
	}
	return &Enforcer{enforcer: enf}, nil
}

// Subject maps a login to the policy subject.
func Subject(login string) string {
	if login == "" {
		return Anonymous
	}
	return login
}

// Domain is the policy domain of a destination.
func Domain(key core.Key) string { return key.Repository + "/" + key.Project }

// Object is the policy object of a destination.
func Object(key core.Key) string { return key.Schema + "." + key.Table }

// Allowed implements core.Authorizer.
func (e *Enforcer) Allowed(ctx context.Context, principal string, key core.Key, action string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sub := Subject(principal)
	ok, err := e.enforcer.Enforce(sub, Domain(key), Object(key), action)
	if err != nil {
		return false, errors.Wrap(err, "authz: enforce")
	}
	if !ok {
		slog.DebugContext(ctx, "authz denied request",
			"subject", sub, "domain", Domain(key), "object", Object(key), "action", action)
	}
	return ok, nil
}

// Reload rereads the policy file.
func (e *Enforcer) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enforcer.LoadPolicy(); err != nil {
		return errors.Wrap(err, "authz: reload policy")
	}
	slog.InfoContext(ctx, "authz policy reloaded")
	return nil
}

// AllowAll permits every request. It is used when no policy is configured;
// anonymous imports are still refused by the pipeline itself.
type AllowAll struct{}

// Allowed implements core.Authorizer.
func (AllowAll) Allowed(context.Context, string, core.Key, string) (bool, error) {
	return true, nil
}
