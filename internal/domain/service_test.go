package domain_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/h2hsecure/acctsync/internal/domain"
	. "github.com/onsi/gomega"
)

func statuses(results []domain.Result) []domain.Status {
	out := make([]domain.Status, 0, len(results))
	for _, r := range results {
		out = append(out, r.Status)
	}
	return out
}

func TestCreateAccountProvisionsAllThreeSubsystems(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()

	out := h.svc.CreateAccount(context.Background(), "alice", "secret1")

	Expect(statuses(out.Results)).To(Equal([]domain.Status{domain.StatusSuccess, domain.StatusSuccess, domain.StatusSuccess}))
	Expect(out.Results[0].Message).To(Equal("SSH user 'alice' created."))
	Expect(out.Results[1].Message).To(Equal("DB user 'alice' created and restricted to database 'alice'."))
	Expect(out.Results[2].Message).To(Equal("SSH permissions updated."))

	Expect(h.system.accounts).To(HaveKeyWithValue("alice", "secret1"))
	Expect(h.db.users).To(HaveKeyWithValue("alice", "secret1"))
	Expect(h.db.grants).To(HaveKey("alice"))
	Expect(h.db.grants["alice"]).To(Equal(map[string]bool{"alice": true}))

	Expect(h.sshd.calls).To(Equal(1))
	Expect(h.sshd.users).To(Equal([]string{"alice", "root"}))

	Expect(out.Accounts).To(Equal([]domain.Account{{Username: "alice", DBSize: "0.02 MB"}}))
}

func TestCreateAccountTwiceIsIdempotent(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()

	first := h.svc.CreateAccount(ctx, "alice", "secret1")
	second := h.svc.CreateAccount(ctx, "alice", "secret1")

	Expect(first.Results[0].Status).To(Equal(domain.StatusSuccess))
	Expect(second.Results[0].Status).To(Equal(domain.StatusWarning))
	Expect(second.Results[0].Message).To(Equal("SSH user 'alice' already exists."))
	Expect(statuses(second.Results)).NotTo(ContainElement(domain.StatusError))
	Expect(second.Succeeded).To(Equal(1))
}

func TestDeleteAccountRemovesBothIdentities(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()

	h.svc.CreateAccount(ctx, "alice", "secret1")
	out := h.svc.DeleteAccount(ctx, "alice")

	Expect(out.Results[0]).To(Equal(domain.Result{Subject: "alice", Status: domain.StatusSuccess, Message: "User alice deleted"}))
	Expect(h.system.accounts).NotTo(HaveKey("alice"))
	Expect(h.db.users).NotTo(HaveKey("alice"))
	Expect(h.db.databases).NotTo(HaveKey("alice"))
	Expect(h.sshd.calls).To(Equal(2))
	Expect(h.sshd.users).To(Equal([]string{"root"}))
}

func TestDeleteAccountsSyncsOnce(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()

	h.svc.CreateAccounts(ctx, []domain.Credential{
		{Username: "a1", Password: "p"},
		{Username: "a2", Password: "p"},
		{Username: "a3", Password: "p"},
	})
	h.system.failDelete["a2"] = fmt.Errorf("userdel a2: process running: %w", domain.ErrSubsystem)

	out := h.svc.DeleteAccounts(ctx, []string{"a1", "a2", "bad name", "a3"})

	Expect(statuses(out.Results)).To(Equal([]domain.Status{
		domain.StatusSuccess, domain.StatusError, domain.StatusError, domain.StatusSuccess, domain.StatusSuccess,
	}))
	Expect(out.Succeeded).To(Equal(2))
	Expect(out.Skipped).To(Equal(2))
	Expect(h.sshd.calls).To(Equal(2))
	Expect(h.sshd.users).To(Equal([]string{"a2", "root"}))
	// the OS failure stops that item before the database is touched
	Expect(h.db.users).To(HaveKey("a2"))
}

func TestDeleteToleratesMissingSystemAccount(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()

	h.db.users["ghost"] = "x"
	h.db.databases["ghost"] = true

	out := h.svc.DeleteAccount(ctx, "ghost")

	Expect(out.Results[0].Status).To(Equal(domain.StatusWarning))
	Expect(h.db.users).NotTo(HaveKey("ghost"))
}

func TestDeleteMissingSystemAccountDatabaseFailure(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()

	h.db.users["ghost"] = "x"
	h.db.failDelete["ghost"] = errors.New("access denied")

	res := h.svc.DeleteAccount(ctx, "ghost").Results[0]
	Expect(res.Status).To(Equal(domain.StatusError))
	Expect(res.Message).To(HavePrefix("System account was already absent and database cleanup failed"))

	h.system.accounts["bob"] = "pw"
	h.db.users["bob"] = "pw"
	h.db.failDelete["bob"] = errors.New("access denied")

	res = h.svc.DeleteAccount(ctx, "bob").Results[0]
	Expect(res.Message).To(HavePrefix("System account removed but database cleanup failed"))
}

func TestDeleteRefusesAdministrator(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()

	out := h.svc.DeleteAccount(context.Background(), "root")

	Expect(out.Results[0].Status).To(Equal(domain.StatusError))
}

func TestImportSkipsInvalidEntries(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()

	out, err := h.svc.ImportAccounts(context.Background(), []byte(`{"bob!":"x","carol":"y"}`))
	Expect(err).To(BeNil())

	Expect(out.Summary).To(Equal("Created 1 users successfully. Skipped 1 invalid entries."))
	Expect(out.Results[0]).To(Equal(domain.Result{Subject: "bob!", Status: domain.StatusError, Message: "Invalid username format: bob!"}))
	Expect(out.Results[1].Message).To(Equal("SSH user 'carol' created."))
	Expect(h.system.accounts).To(HaveKey("carol"))
	Expect(h.system.accounts).NotTo(HaveKey("bob!"))
	Expect(h.sshd.calls).To(Equal(1))

	records, _ := h.store.Records(context.Background())
	Expect(records).To(ContainElement(WithTransform(func(r domain.AuditRecord) string {
		return r.Action + "/" + r.Subject + "/" + r.Outcome
	}, Equal("create_user/bob!/rejected: invalid username format"))))
}

func TestImportRejectsOversizedDocument(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()

	_, err := h.svc.ImportAccounts(context.Background(), bytes.Repeat([]byte(" "), 1<<20+1))
	Expect(errors.Is(err, domain.ErrTooLarge)).To(BeTrue())
	Expect(h.sshd.calls).To(Equal(0))
}

func TestBatchItemsAreIsolated(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	h.system.failCreate["dave"] = fmt.Errorf("useradd dave: %w", domain.ErrSubsystem)

	out := h.svc.CreateAccounts(context.Background(), []domain.Credential{
		{Username: "carol", Password: "y"},
		{Username: "dave", Password: "z"},
		{Username: "erin", Password: ""},
		{Username: "frank", Password: "w"},
	})

	Expect(out.Succeeded).To(Equal(2))
	Expect(out.Skipped).To(Equal(2))
	Expect(h.system.accounts).To(HaveKey("carol"))
	Expect(h.system.accounts).To(HaveKey("frank"))
	Expect(h.db.users).NotTo(HaveKey("dave"))
	Expect(h.sshd.calls).To(Equal(1))
	Expect(h.sshd.users).To(Equal([]string{"carol", "frank", "root"}))
}

func TestDatabaseFailureDoesNotRollBackSystemAccount(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	h.db.failCreate["gina"] = fmt.Errorf("create user: %w", domain.ErrSubsystem)

	out := h.svc.CreateAccount(context.Background(), "gina", "pw")

	Expect(statuses(out.Results)).To(Equal([]domain.Status{domain.StatusSuccess, domain.StatusError, domain.StatusSuccess}))
	Expect(h.system.accounts).To(HaveKey("gina"))
	Expect(h.sshd.users).To(ContainElement("gina"))

	report, err := h.svc.Reconcile(context.Background())
	Expect(err).To(BeNil())
	Expect(report.SystemOnly).To(Equal([]string{"gina"}))
	Expect(report.InSync()).To(BeFalse())
}

func TestReloadFailureIsReportedAsDrift(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	h.sshd.err = fmt.Errorf("%w: systemctl exit status 1", domain.ErrReload)

	res := h.svc.SyncAllowList(context.Background())

	Expect(res.Status).To(Equal(domain.StatusWarning))
	records, _ := h.store.Records(context.Background())
	Expect(records).To(HaveLen(1))
	Expect(records[0].Action).To(Equal("sync_allowlist"))
	Expect(records[0].Outcome).To(HavePrefix("drift"))
}

func TestSyncWriteFailureIsError(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	h.sshd.err = fmt.Errorf("rename: %w", domain.ErrSubsystem)

	res := h.svc.SyncAllowList(context.Background())

	Expect(res.Status).To(Equal(domain.StatusError))
}

func TestResetPasswordUpdatesBothCredentials(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()
	h.svc.CreateAccount(ctx, "alice", "secret1")

	res := h.svc.ResetPassword(ctx, "alice", "secret2")

	Expect(res.Status).To(Equal(domain.StatusSuccess))
	Expect(h.system.accounts["alice"]).To(Equal("secret2"))
	Expect(h.db.users["alice"]).To(Equal("secret2"))

	Expect(h.svc.ResetPassword(ctx, "nobody", "x").Status).To(Equal(domain.StatusError))
	Expect(h.db.users).NotTo(HaveKey("nobody"))
}

func TestLockDoesNotTouchDatabase(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()
	h.svc.CreateAccount(ctx, "alice", "secret1")

	Expect(h.svc.SetLocked(ctx, "alice", true).Message).To(Equal("User alice locked"))

	accounts, err := h.svc.Accounts(ctx)
	Expect(err).To(BeNil())
	Expect(accounts).To(Equal([]domain.Account{{Username: "alice", DBSize: "0.02 MB", Locked: true}}))
	Expect(h.db.users).To(HaveKeyWithValue("alice", "secret1"))

	Expect(h.svc.SetLocked(ctx, "alice", false).Status).To(Equal(domain.StatusSuccess))
	Expect(h.system.locked["alice"]).To(BeFalse())
}

func TestGrantAndRevokeKeepRegistryEntry(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()
	h.svc.CreateAccount(ctx, "carol", "y")

	Expect(h.svc.CreateSharedDatabase(ctx, "reports").Status).To(Equal(domain.StatusSuccess))

	res := h.svc.GrantAccess(ctx, "reports", "carol")
	Expect(res.Status).To(Equal(domain.StatusSuccess))
	Expect(res.Message).To(Equal("Table/object management access granted to carol on reports"))
	Expect(h.db.grants["reports"]).To(HaveKey("carol"))

	shared, _ := h.svc.SharedDatabases(ctx)
	Expect(shared).To(Equal([]domain.SharedDatabase{{Name: "reports", Grants: []string{"carol"}}}))

	Expect(h.svc.RevokeAccess(ctx, "reports", "carol").Status).To(Equal(domain.StatusSuccess))
	Expect(h.db.grants["reports"]).NotTo(HaveKey("carol"))

	shared, _ = h.svc.SharedDatabases(ctx)
	Expect(shared).To(HaveLen(1))
	Expect(shared[0].Name).To(Equal("reports"))
	Expect(shared[0].Grants).To(BeEmpty())
}

func TestDeleteAccountCleansRegistryGrants(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()
	h.svc.CreateAccount(ctx, "carol", "y")
	h.svc.CreateSharedDatabase(ctx, "reports")
	h.svc.GrantAccess(ctx, "reports", "carol")

	h.svc.DeleteAccount(ctx, "carol")

	shared, _ := h.svc.SharedDatabases(ctx)
	Expect(shared[0].Grants).To(BeEmpty())
}

func TestRemoveSharedDatabase(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()
	h.svc.CreateSharedDatabase(ctx, "reports")

	Expect(h.svc.RemoveSharedDatabase(ctx, "reports", true).Status).To(Equal(domain.StatusSuccess))
	Expect(h.db.databases).NotTo(HaveKey("reports"))
	Expect(h.svc.RemoveSharedDatabase(ctx, "reports", false).Status).To(Equal(domain.StatusWarning))
}

func TestInvalidInputNeverReachesSubsystems(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()

	Expect(h.svc.GrantAccess(ctx, "reports; DROP", "carol").Status).To(Equal(domain.StatusError))
	Expect(h.svc.CreateSharedDatabase(ctx, "a-b").Status).To(Equal(domain.StatusError))
	Expect(h.svc.SetLocked(ctx, "x y", true).Status).To(Equal(domain.StatusError))

	_, err := h.svc.QuerySharedDatabase(ctx, "reports", "DROP TABLE t")
	Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
	_, err = h.svc.QuerySharedDatabase(ctx, "re`ports", "SELECT 1")
	Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())

	Expect(h.svc.RevokeAccess(ctx, "reports", "o'neil").Status).To(Equal(domain.StatusError))
	Expect(h.svc.RemoveSharedDatabase(ctx, "a.b", true).Status).To(Equal(domain.StatusError))
	Expect(h.svc.ResetPassword(ctx, "bob!", "pw").Status).To(Equal(domain.StatusError))
	Expect(h.svc.ResetPassword(ctx, "bob", "").Status).To(Equal(domain.StatusError))
	Expect(h.svc.SetBindAddress(ctx, "10.0.0").Status).To(Equal(domain.StatusError))

	Expect(h.db.grants).To(BeEmpty())
	Expect(h.db.databases).To(BeEmpty())
	Expect(h.db.queries).To(Equal(0))
	Expect(h.bind.addr).To(BeEmpty())

	records, err := h.svc.AuditLog(ctx)
	Expect(err).To(BeNil())
	actions := make([]string, 0, len(records))
	for _, rec := range records {
		Expect(rec.Outcome).To(HavePrefix("rejected:"), rec.Action)
		actions = append(actions, rec.Action)
	}
	Expect(actions).To(Equal([]string{
		"grant_access",
		"create_shared_db",
		"lock_user",
		"query_shared_db",
		"query_shared_db",
		"revoke_access",
		"remove_shared_db",
		"reset_password",
		"reset_password",
		"set_ip_range",
	}))
}

func TestQuerySharedDatabase(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()

	res, err := h.svc.QuerySharedDatabase(context.Background(), "reports", "select 1")

	Expect(err).To(BeNil())
	Expect(res.Rows).To(Equal([][]string{{"1"}}))
}

func TestSetBindAddress(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()

	Expect(h.svc.SetBindAddress(ctx, "").Message).To(Equal("IP range set to 0.0.0.0"))
	Expect(h.bind.addr).To(Equal("0.0.0.0"))

	Expect(h.svc.SetBindAddress(ctx, "10.0.0.5").Status).To(Equal(domain.StatusSuccess))
	Expect(h.bind.addr).To(Equal("10.0.0.5"))

	Expect(h.svc.SetBindAddress(ctx, "10.0.0").Status).To(Equal(domain.StatusError))
	Expect(h.bind.addr).To(Equal("10.0.0.5"))
}

func TestExportCSV(t *testing.T) {
	RegisterTestingT(t)
	h := newHarness()
	ctx := context.Background()
	h.svc.CreateAccount(ctx, "alice", "secret1")

	var buf bytes.Buffer
	Expect(h.svc.ExportCSV(ctx, &buf)).To(Succeed())
	Expect(buf.String()).To(Equal("Username,Database Size,Locked\nalice,0.02 MB,false\n"))
	Expect(buf.String()).NotTo(ContainSubstring("secret1"))
}
