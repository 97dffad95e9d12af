package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"sar/internal/apperr"
	"sar/internal/config"
	"sar/internal/model"
)

type LDAPResult struct {
	Username string
	Name     string
	Email    string
	Groups   []string
}

// LDAPSource authenticates against a directory and maps its groups onto
// sar roles through ldap.group_mapping (keys "admin", "reviewer", "viewer").
type LDAPSource struct {
	cfg config.LDAPConfig
}

func NewLDAPSource(cfg config.LDAPConfig) *LDAPSource {
	return &LDAPSource{cfg: cfg}
}

func (s *LDAPSource) Name() string { return "ldap" }

func (s *LDAPSource) Authenticate(_ context.Context, username, password string) (model.User, error) {
	res, err := s.lookup(username, password)
	if err != nil {
		return model.User{}, err
	}
	role, ok := s.ResolveRole(res.Groups)
	if !ok {
		return model.User{}, fmt.Errorf("ldap user %s is not in a mapped group: %w", username, apperr.ErrForbidden)
	}
	return model.User{
		Username:   res.Username,
		Name:       res.Name,
		Email:      res.Email,
		Role:       role,
		Active:     true,
		AuthSource: s.Name(),
	}, nil
}

// lookup performs a two-step bind: the service account finds the user's
// DN, then the user's own bind verifies the password.
func (s *LDAPSource) lookup(username, password string) (*LDAPResult, error) {
	conn, err := s.connect()
	if err != nil {
		return nil, fmt.Errorf("ldap connect: %w", err)
	}
	defer conn.Close()

	if err := conn.Bind(s.cfg.BindDN, s.cfg.BindPassword); err != nil {
		return nil, fmt.Errorf("ldap service bind: %w", err)
	}

	filter := fmt.Sprintf(s.cfg.UserFilter, ldap.EscapeFilter(username))
	searchReq := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases, 0, 30, false,
		filter,
		[]string{"dn", s.cfg.UsernameAttr, s.cfg.NameAttr, s.cfg.EmailAttr, "memberOf"},
		nil,
	)
	result, err := conn.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("ldap search: %w", err)
	}
	switch len(result.Entries) {
	case 0:
		return nil, ErrUnknownUser
	case 1:
	default:
		return nil, fmt.Errorf("ldap search for %q is ambiguous: %d results", username, len(result.Entries))
	}

	entry := result.Entries[0]
	if err := conn.Bind(entry.DN, password); err != nil {
		var ldapErr *ldap.Error
		if errors.As(err, &ldapErr) && ldapErr.ResultCode == ldap.LDAPResultInvalidCredentials {
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("ldap user bind: %w", err)
	}

	groups := entry.GetAttributeValues("memberOf")
	if len(groups) == 0 {
		groups = s.searchGroups(conn, entry)
	}

	return &LDAPResult{
		Username: entry.GetAttributeValue(s.cfg.UsernameAttr),
		Name:     entry.GetAttributeValue(s.cfg.NameAttr),
		Email:    entry.GetAttributeValue(s.cfg.EmailAttr),
		Groups:   groups,
	}, nil
}

// searchGroups finds groups listing the user as a member when the
// directory does not populate memberOf. In group_filter, %s is the user DN
// and %u the login name.
func (s *LDAPSource) searchGroups(conn *ldap.Conn, entry *ldap.Entry) []string {
	tmpl := s.cfg.GroupFilter
	if tmpl == "" {
		tmpl = "(|(member=%s)(uniqueMember=%s))"
	}
	filter := strings.ReplaceAll(tmpl, "%s", ldap.EscapeFilter(entry.DN))
	filter = strings.ReplaceAll(filter, "%u", ldap.EscapeFilter(entry.GetAttributeValue(s.cfg.UsernameAttr)))

	req := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"dn"},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil
	}
	groups := make([]string, 0, len(res.Entries))
	for _, ge := range res.Entries {
		groups = append(groups, ge.DN)
	}
	return groups
}

// ResolveRole returns the highest role whose mapped group the user belongs
// to. Admin beats Reviewer beats Viewer.
func (s *LDAPSource) ResolveRole(groups []string) (string, bool) {
	for _, r := range []struct{ key, role string }{
		{"admin", model.RoleAdmin},
		{"reviewer", model.RoleReviewer},
		{"viewer", model.RoleViewer},
	} {
		group, ok := s.cfg.GroupMapping[r.key]
		if !ok {
			continue
		}
		for _, g := range groups {
			if strings.EqualFold(g, group) {
				return r.role, true
			}
		}
	}
	return "", false
}

func (s *LDAPSource) connect() (*ldap.Conn, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: s.cfg.SkipVerify}

	if strings.HasPrefix(s.cfg.URL, "ldaps://") {
		return ldap.DialURL(s.cfg.URL, ldap.DialWithTLSConfig(tlsCfg))
	}

	conn, err := ldap.DialURL(s.cfg.URL)
	if err != nil {
		return nil, err
	}
	if s.cfg.StartTLS {
		if err := conn.StartTLS(tlsCfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return conn, nil
}
