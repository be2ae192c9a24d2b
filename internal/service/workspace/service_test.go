package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/service/quota"

	"go.uber.org/zap"
)

// ========== Fakes ==========

type memStore struct {
	mu          sync.Mutex
	workspaces  map[int64]*workspace.Workspace
	members     map[int64]map[int64]*workspace.Membership
	invitations []*workspace.Invitation
	users       map[int64]*auth.User
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{
		workspaces: map[int64]*workspace.Workspace{},
		members:    map[int64]map[int64]*workspace.Membership{},
		users: map[int64]*auth.User{
			1: {ID: 1, Email: "owner@example.com", FullName: "Olive Owner"},
			2: {ID: 2, Email: "admin@example.com"},
			3: {ID: 3, Email: "member@example.com"},
			4: {ID: 4, Email: "guest@example.com"},
		},
		nextID: 100,
	}
}

func (m *memStore) Create(ctx context.Context, w *workspace.Workspace) error {
	m.nextID++
	w.ID = m.nextID
	m.workspaces[w.ID] = w
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id int64) (*workspace.Workspace, error) {
	if w, ok := m.workspaces[id]; ok {
		return w, nil
	}
	return nil, xerrors.ErrNotFound
}

func (m *memStore) ListForUser(ctx context.Context, userID int64) ([]*workspace.WorkspaceView, error) {
	var out []*workspace.WorkspaceView
	for wsID, ms := range m.members {
		if mem, ok := ms[userID]; ok {
			out = append(out, &workspace.WorkspaceView{Workspace: *m.workspaces[wsID], MyRole: mem.Role})
		}
	}
	return out, nil
}

func (m *memStore) UpdateName(ctx context.Context, id int64, name string) error {
	w, ok := m.workspaces[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	w.Name = name
	return nil
}

func (m *memStore) AddMember(ctx context.Context, workspaceID, userID int64, role workspace.Role) error {
	if m.members[workspaceID] == nil {
		m.members[workspaceID] = map[int64]*workspace.Membership{}
	}
	if _, ok := m.members[workspaceID][userID]; ok {
		return xerrors.ErrConflict
	}
	email := ""
	if u, ok := m.users[userID]; ok {
		email = u.Email
	}
	m.members[workspaceID][userID] = &workspace.Membership{WorkspaceID: workspaceID, UserID: userID, Role: role, Email: email}
	return nil
}

func (m *memStore) FindMembership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error) {
	if mem, ok := m.members[workspaceID][userID]; ok {
		return mem, nil
	}
	return nil, xerrors.ErrNotFound
}

func (m *memStore) ListMembers(ctx context.Context, workspaceID int64) ([]*workspace.Membership, error) {
	var out []*workspace.Membership
	for _, mem := range m.members[workspaceID] {
		out = append(out, mem)
	}
	return out, nil
}

func (m *memStore) CountMembers(ctx context.Context, workspaceID int64) (int64, error) {
	return int64(len(m.members[workspaceID])), nil
}

func (m *memStore) UpdateRole(ctx context.Context, workspaceID, userID int64, role workspace.Role) error {
	mem, ok := m.members[workspaceID][userID]
	if !ok {
		return xerrors.ErrNotFound
	}
	mem.Role = role
	return nil
}

func (m *memStore) RemoveMember(ctx context.Context, workspaceID, userID int64) error {
	if _, ok := m.members[workspaceID][userID]; !ok {
		return xerrors.ErrNotFound
	}
	delete(m.members[workspaceID], userID)
	return nil
}

func (m *memStore) CreateInvitation(ctx context.Context, inv *workspace.Invitation) error {
	for _, existing := range m.invitations {
		if existing.WorkspaceID == inv.WorkspaceID && existing.Email == inv.Email && existing.Status == workspace.InvitationPending {
			return xerrors.ErrConflict
		}
	}
	m.nextID++
	inv.ID = m.nextID
	inv.Status = workspace.InvitationPending
	m.invitations = append(m.invitations, inv)
	return nil
}

func (m *memStore) FindInvitationByToken(ctx context.Context, token string) (*workspace.Invitation, error) {
	for _, inv := range m.invitations {
		if inv.Token == token {
			return inv, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memStore) ListInvitations(ctx context.Context, workspaceID int64) ([]*workspace.Invitation, error) {
	var out []*workspace.Invitation
	for _, inv := range m.invitations {
		if inv.WorkspaceID == workspaceID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) TransitionInvitation(ctx context.Context, id int64, status workspace.InvitationStatus) (bool, error) {
	for _, inv := range m.invitations {
		if inv.ID == id {
			if inv.Status != workspace.InvitationPending {
				return false, nil
			}
			inv.Status = status
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UserByID(ctx context.Context, id int64) (*auth.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, xerrors.ErrNotFound
}

func (m *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

type planStub struct {
	seats       int64
	invalidated []int64
}

func (p *planStub) ResolveEffectivePlan(ctx context.Context, userID int64, workspaceID *int64) (*plan.EffectivePlan, error) {
	return &plan.EffectivePlan{PlanCode: "team", Source: plan.SourceWorkspaceSubscription}, nil
}

func (p *planStub) WorkspaceLimits(ctx context.Context, workspaceID int64) (*plan.EffectivePlan, error) {
	return &plan.EffectivePlan{Limits: plan.PlanLimits{MaxWorkspaceMembers: p.seats}}, nil
}

func (p *planStub) AssignPlanByWorkspaceOwner(ctx context.Context, ownerID, targetID, workspaceID, planID int64, reason string) (*plan.UserSubscription, error) {
	return &plan.UserSubscription{UserID: targetID, PlanID: planID}, nil
}

func (p *planStub) ClearOwnerOverride(ctx context.Context, ownerID, targetID, workspaceID int64) error {
	return nil
}

func (p *planStub) InvalidateWorkspaceMembers(ctx context.Context, members []*workspace.Membership) {
	for _, m := range members {
		p.invalidated = append(p.invalidated, m.UserID)
	}
}

type usageStub struct{}

func (usageStub) Usage(ctx context.Context, workspaceID int64) (*quota.Summary, error) {
	return &quota.Summary{WorkspaceID: workspaceID}, nil
}

type sentMail struct {
	to, workspace, inviter, role, token string
}

type mailRecorder struct {
	sent []sentMail
}

func (m *mailRecorder) SendInvitation(to, workspaceName, inviterName, role, token string) {
	m.sent = append(m.sent, sentMail{to, workspaceName, inviterName, role, token})
}

type fixture struct {
	svc   *WorkspaceService
	store *memStore
	plans *planStub
	mail  *mailRecorder
	wsID  int64
}

// newFixture builds a team workspace with an owner (1), an admin (2) and a member (3).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), plans: &planStub{seats: 10}, mail: &mailRecorder{}}
	f.svc = NewWorkspaceService(f.store, f.plans, usageStub{}, f.mail, zap.NewNop())

	view, err := f.svc.CreateWorkspace(context.Background(), 1, &workspace.CreateWorkspaceRequest{Name: "Podcast Crew", Type: workspace.TypeTeam})
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	f.wsID = view.ID
	_ = f.store.AddMember(context.Background(), f.wsID, 2, workspace.RoleAdmin)
	_ = f.store.AddMember(context.Background(), f.wsID, 3, workspace.RoleMember)
	return f
}

// ========== Tests ==========

func TestCreateWorkspace_CreatorBecomesOwner(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.GetWorkspace(context.Background(), 1, f.wsID)
	if err != nil {
		t.Fatalf("GetWorkspace() error = %v", err)
	}
	if view.MyRole != workspace.RoleOwner {
		t.Errorf("role = %s, want owner", view.MyRole)
	}
	if !strings.HasPrefix(view.Slug, "podcast-crew-") {
		t.Errorf("slug = %q", view.Slug)
	}

	if _, err := f.svc.GetWorkspace(context.Background(), 4, f.wsID); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("outsider error = %v, want ErrNotFound", err)
	}
}

func TestNewSlug(t *testing.T) {
	tests := map[string]string{
		"My Team!":       "my-team-",
		"  ":             "workspace-",
		"Équipe Radio 2": "quipe-radio-2-",
	}
	for name, prefix := range tests {
		if got := workspace.NewSlug(name); !strings.HasPrefix(got, prefix) || len(got) != len(prefix)+6 {
			t.Errorf("NewSlug(%q) = %q, want prefix %q plus 6 chars", name, got, prefix)
		}
	}
}

func TestInvite(t *testing.T) {
	ctx := context.Background()

	t.Run("manager invites and mail is sent", func(t *testing.T) {
		f := newFixture(t)
		inv, err := f.svc.Invite(ctx, 2, f.wsID, &workspace.InviteRequest{Email: "Guest@Example.com", Role: workspace.RoleViewer})
		if err != nil {
			t.Fatalf("Invite() error = %v", err)
		}
		if inv.Email != "guest@example.com" || inv.Token == "" {
			t.Errorf("invitation = %+v", inv)
		}
		if len(f.mail.sent) != 1 || f.mail.sent[0].token != inv.Token || f.mail.sent[0].workspace != "Podcast Crew" {
			t.Errorf("mail = %+v", f.mail.sent)
		}
	})

	t.Run("member cannot invite", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Invite(ctx, 3, f.wsID, &workspace.InviteRequest{Email: "guest@example.com", Role: workspace.RoleMember})
		if !errors.Is(err, xerrors.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("existing member", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Invite(ctx, 1, f.wsID, &workspace.InviteRequest{Email: "MEMBER@example.com", Role: workspace.RoleMember})
		if !errors.Is(err, xerrors.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})

	t.Run("seat limit", func(t *testing.T) {
		f := newFixture(t)
		f.plans.seats = 3
		_, err := f.svc.Invite(ctx, 1, f.wsID, &workspace.InviteRequest{Email: "guest@example.com", Role: workspace.RoleMember})
		if !errors.Is(err, xerrors.ErrQuotaExceeded) {
			t.Errorf("error = %v, want ErrQuotaExceeded", err)
		}
		if len(f.mail.sent) != 0 {
			t.Error("no mail should be sent")
		}
	})
}

func TestAcceptInvitation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inv, err := f.svc.Invite(ctx, 1, f.wsID, &workspace.InviteRequest{Email: "guest@example.com", Role: workspace.RoleMember})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}

	if _, err := f.svc.AcceptInvitation(ctx, 3, "member@example.com", inv.Token); !errors.Is(err, xerrors.ErrForbidden) {
		t.Errorf("wrong email error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.AcceptInvitation(ctx, 4, "guest@example.com", "nope"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("unknown token error = %v, want ErrNotFound", err)
	}

	view, err := f.svc.AcceptInvitation(ctx, 4, "GUEST@example.com", inv.Token)
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	if view.MyRole != workspace.RoleMember {
		t.Errorf("role = %s, want member", view.MyRole)
	}
	if len(f.plans.invalidated) == 0 || f.plans.invalidated[len(f.plans.invalidated)-1] != 4 {
		t.Errorf("invalidated = %v, want user 4", f.plans.invalidated)
	}

	if _, err := f.svc.AcceptInvitation(ctx, 4, "guest@example.com", inv.Token); !errors.Is(err, xerrors.ErrInvalidState) {
		t.Errorf("second accept error = %v, want ErrInvalidState", err)
	}
}

func TestAcceptInvitation_Expired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inv, err := f.svc.Invite(ctx, 1, f.wsID, &workspace.InviteRequest{Email: "guest@example.com", Role: workspace.RoleMember})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	f.svc.now = func() time.Time { return time.Now().Add(InvitationTTL + time.Hour) }

	if _, err := f.svc.AcceptInvitation(ctx, 4, "guest@example.com", inv.Token); !errors.Is(err, xerrors.ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
	if inv.Status != workspace.InvitationExpired {
		t.Errorf("status = %s, want expired", inv.Status)
	}
}

func TestRevokeInvitation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inv, _ := f.svc.Invite(ctx, 1, f.wsID, &workspace.InviteRequest{Email: "guest@example.com", Role: workspace.RoleMember})
	if err := f.svc.RevokeInvitation(ctx, 2, f.wsID, inv.ID); err != nil {
		t.Fatalf("RevokeInvitation() error = %v", err)
	}
	if err := f.svc.RevokeInvitation(ctx, 2, f.wsID, inv.ID); !errors.Is(err, xerrors.ErrInvalidState) {
		t.Errorf("second revoke error = %v, want ErrInvalidState", err)
	}
	if err := f.svc.RevokeInvitation(ctx, 2, f.wsID, 9999); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("unknown invitation error = %v, want ErrNotFound", err)
	}
}

func TestChangeRole(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   int64
		target  int64
		role    workspace.Role
		wantErr error
	}{
		{"owner demotes admin", 1, 2, workspace.RoleMember, nil},
		{"admin demotes member", 2, 3, workspace.RoleViewer, nil},
		{"admin cannot promote to admin", 2, 3, workspace.RoleAdmin, xerrors.ErrForbidden},
		{"owner role is fixed", 2, 1, workspace.RoleMember, xerrors.ErrForbidden},
		{"member cannot change roles", 3, 2, workspace.RoleViewer, xerrors.ErrForbidden},
		{"ownership cannot be granted", 1, 3, workspace.RoleOwner, xerrors.ErrInvalidInput},
		{"unknown target", 1, 4, workspace.RoleMember, xerrors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.svc.ChangeRole(ctx, tt.actor, f.wsID, tt.target, tt.role)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ChangeRole() error = %v", err)
				}
				m, _ := f.store.FindMembership(ctx, f.wsID, tt.target)
				if m.Role != tt.role {
					t.Errorf("role = %s, want %s", m.Role, tt.role)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()

	t.Run("member leaves", func(t *testing.T) {
		f := newFixture(t)
		if err := f.svc.RemoveMember(ctx, 3, f.wsID, 3); err != nil {
			t.Fatalf("RemoveMember() error = %v", err)
		}
		if _, err := f.store.FindMembership(ctx, f.wsID, 3); !errors.Is(err, xerrors.ErrNotFound) {
			t.Error("member should be gone")
		}
	})

	t.Run("owner cannot leave", func(t *testing.T) {
		f := newFixture(t)
		if err := f.svc.RemoveMember(ctx, 1, f.wsID, 1); !errors.Is(err, xerrors.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("admin cannot remove admin-level peers", func(t *testing.T) {
		f := newFixture(t)
		_ = f.store.UpdateRole(ctx, f.wsID, 3, workspace.RoleAdmin)
		if err := f.svc.RemoveMember(ctx, 2, f.wsID, 3); !errors.Is(err, xerrors.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("member cannot remove others", func(t *testing.T) {
		f := newFixture(t)
		if err := f.svc.RemoveMember(ctx, 3, f.wsID, 2); !errors.Is(err, xerrors.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})
}
