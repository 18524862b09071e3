// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prodflow/packportal/internal/domain"
	"github.com/prodflow/packportal/internal/platform/cache"
	"github.com/prodflow/packportal/internal/platform/cache/memory"
)

const (
	testSpecAppID       = 66
	testSpecFilterPath  = "/item/app/66/filter/"
	testContactID int64 = 7
)

func specItem(id int64, title, status string) string {
	return fmt.Sprintf(`{
		"item_id": %d,
		"title": %q,
		"created_on": "2025-05-20 09:30:00",
		"fields": [
			{"external_id": "customer-approval-status", "type": "category", "values": [{"value": {"id": 1, "text": %q}}]},
			{"external_id": "customer", "type": "app", "values": [{"value": {"item_id": 7, "title": "Acme Foods"}}]},
			{"external_id": "product-name", "type": "text", "values": [{"value": "Olive Oil 500ml"}]}
		]
	}`, id, title, status)
}

func stubSpecList(api *fakeAPI, items ...string) {
	body := fmt.Sprintf(`{"total": %d, "items": [%s]}`, len(items), joinJSON(items))
	api.stub("POST", testSpecFilterPath, body)
}

func stubComments(api *fakeAPI, itemID int64, body string) {
	api.stub("GET", fmt.Sprintf("/comment/item/%d/", itemID), body)
}

func newTestSpecService(t *testing.T, api *fakeAPI, clock *testClock) (*SpecService, cache.Cache) {
	t.Helper()
	c := memory.New(time.Minute, time.Minute)
	t.Cleanup(func() { c.Close() })
	svc := NewSpecService(api, c, testSpecAppID, nil)
	svc.now = clock.Now
	return svc, c
}

func TestListFetchesAndFilters(t *testing.T) {
	api := newFakeAPI()
	stubSpecList(api,
		specItem(42, "Olive Oil 500ml", "Pending Approval"),
		specItem(43, "Olive Oil 750ml", "Approved by Customer"),
	)
	svc, _ := newTestSpecService(t, api, newTestClock())

	specs, stale, err := svc.List(context.Background(), testContactID, false)
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if stale {
		t.Error("fresh listing reported stale")
	}
	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d", len(specs))
	}
	if specs[0].ID != 42 || specs[0].Status != domain.StatusPendingApproval {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[1].Status != domain.StatusApprovedByCustomer {
		t.Errorf("specs[1].Status = %q", specs[1].Status)
	}
	if specs[0].CustomerID != testContactID {
		t.Errorf("specs[0].CustomerID = %d", specs[0].CustomerID)
	}

	// The filter must scope the listing to the contact's items.
	call := api.lastCall(t)
	body, ok := call.body.(map[string]any)
	if !ok {
		t.Fatalf("filter body type %T", call.body)
	}
	filters, ok := body["filters"].(map[string]any)
	if !ok {
		t.Fatalf("filters missing: %v", body)
	}
	ids, ok := filters["customer"].([]int64)
	if !ok || len(ids) != 1 || ids[0] != testContactID {
		t.Errorf("customer filter = %v", filters["customer"])
	}
	if body["limit"] != specPageSize {
		t.Errorf("limit = %v", body["limit"])
	}
}

func TestListFallsBackToSnapshotOnFailure(t *testing.T) {
	api := newFakeAPI()
	stubSpecList(api, specItem(42, "Olive Oil 500ml", "Pending Approval"))
	svc, _ := newTestSpecService(t, api, newTestClock())

	if _, _, err := svc.List(context.Background(), testContactID, false); err != nil {
		t.Fatalf("priming List() = %v", err)
	}

	api.reset("POST", testSpecFilterPath)
	api.stubErr("POST", testSpecFilterPath, errors.New("upstream down"))

	specs, stale, err := svc.List(context.Background(), testContactID, false)
	if err != nil {
		t.Fatalf("List() with snapshot = %v", err)
	}
	if !stale {
		t.Error("snapshot served without stale flag")
	}
	if len(specs) != 1 || specs[0].ID != 42 {
		t.Errorf("snapshot specs = %+v", specs)
	}
}

func TestListFailureWithoutSnapshot(t *testing.T) {
	api := newFakeAPI()
	upstream := errors.New("upstream down")
	api.stubErr("POST", testSpecFilterPath, upstream)
	svc, _ := newTestSpecService(t, api, newTestClock())

	_, _, err := svc.List(context.Background(), testContactID, false)
	if !errors.Is(err, upstream) {
		t.Fatalf("List() = %v, want upstream error", err)
	}
}

func TestListForceRefreshDropsSnapshot(t *testing.T) {
	api := newFakeAPI()
	stubSpecList(api, specItem(42, "Olive Oil 500ml", "Pending Approval"))
	svc, _ := newTestSpecService(t, api, newTestClock())

	if _, _, err := svc.List(context.Background(), testContactID, false); err != nil {
		t.Fatalf("priming List() = %v", err)
	}

	api.reset("POST", testSpecFilterPath)
	upstream := errors.New("upstream down")
	api.stubErr("POST", testSpecFilterPath, upstream)

	// A forced refresh must surface the failure, not the old snapshot.
	if _, _, err := svc.List(context.Background(), testContactID, true); !errors.Is(err, upstream) {
		t.Fatalf("List(force) = %v, want upstream error", err)
	}
}

func TestGetAttachesComments(t *testing.T) {
	api := newFakeAPI()
	api.stub("GET", "/item/42", specItem(42, "Olive Oil 500ml", "Pending Approval"))
	stubComments(api, 42, `[
		{"comment_id": 1, "value": "", "rich_value": "<p>Looks good</p>", "created_on": "2025-05-21 10:00:00", "created_by": {"name": "Jane"}},
		{"comment_id": 2, "value": "Please check the barcode.", "created_on": "2025-05-22 10:00:00", "created_by": {"name": "Sam"}}
	]`)
	svc, _ := newTestSpecService(t, api, newTestClock())

	spec, err := svc.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if spec.ID != 42 || spec.Details.ProductName != "Olive Oil 500ml" {
		t.Errorf("spec = %+v", spec)
	}
	if len(spec.Comments) != 2 {
		t.Fatalf("len(Comments) = %d", len(spec.Comments))
	}
	if spec.Comments[0].Text != "Looks good" || spec.Comments[0].Author != "Jane" {
		t.Errorf("Comments[0] = %+v", spec.Comments[0])
	}
}

func TestGetDegradesWhenCommentsFail(t *testing.T) {
	api := newFakeAPI()
	api.stub("GET", "/item/42", specItem(42, "Olive Oil 500ml", "Pending Approval"))
	api.stubErr("GET", "/comment/item/42/", errors.New("comments down"))
	svc, _ := newTestSpecService(t, api, newTestClock())

	spec, err := svc.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if spec.Comments != nil {
		t.Errorf("Comments = %+v, want none", spec.Comments)
	}
}

func TestApprove(t *testing.T) {
	api := newFakeAPI()
	api.stub("PUT", "/item/42", `{}`)
	api.stub("POST", "/comment/item/42/", `{"comment_id": 9, "value": "Approved by Jane Smith via the customer portal.", "created_on": "2025-06-01 12:00:00", "created_by": {"name": "Portal"}}`)
	api.stub("GET", "/item/42", specItem(42, "Olive Oil 500ml", "Approved by Customer"))
	stubComments(api, 42, `[]`)

	clock := newTestClock()
	svc, c := newTestSpecService(t, api, clock)

	// Prime a snapshot so the write path has something to invalidate.
	if err := c.Set(context.Background(), listKey(testContactID), []byte(`[]`), time.Minute); err != nil {
		t.Fatal(err)
	}

	spec, err := svc.Approve(context.Background(), testContactID, 42, "Jane Smith")
	if err != nil {
		t.Fatalf("Approve() = %v", err)
	}
	if spec.Status != domain.StatusApprovedByCustomer {
		t.Errorf("Status = %q", spec.Status)
	}

	// The update payload carries the status, the approver, and the date.
	var put *apiCall
	for i := range api.calls {
		if api.calls[i].method == "PUT" {
			put = &api.calls[i]
		}
	}
	if put == nil {
		t.Fatal("no PUT recorded")
	}
	raw, ok := put.body.(json.RawMessage)
	if !ok {
		t.Fatalf("PUT body type %T", put.body)
	}
	var payload struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Fields["customer-approval-status"] != "Approved by Customer" {
		t.Errorf("status field = %v", payload.Fields["customer-approval-status"])
	}
	if payload.Fields["approved-by"] != "Jane Smith" {
		t.Errorf("approved-by = %v", payload.Fields["approved-by"])
	}
	date, _ := payload.Fields["approval-date"].(map[string]any)
	if date["start_utc"] != "2025-06-01 12:00:00" {
		t.Errorf("approval-date = %v", payload.Fields["approval-date"])
	}
	if _, ok := payload.Fields["customer-requested-changes"]; ok {
		t.Error("approval payload names the requested-changes field")
	}

	if _, err := c.Get(context.Background(), listKey(testContactID)); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("snapshot not invalidated: %v", err)
	}
}

func TestApproveSurvivesCommentFailure(t *testing.T) {
	api := newFakeAPI()
	api.stub("PUT", "/item/42", `{}`)
	api.stubErr("POST", "/comment/item/42/", errors.New("comments down"))
	api.stub("GET", "/item/42", specItem(42, "Olive Oil 500ml", "Approved by Customer"))
	stubComments(api, 42, `[]`)
	svc, _ := newTestSpecService(t, api, newTestClock())

	spec, err := svc.Approve(context.Background(), testContactID, 42, "Jane Smith")
	if err != nil {
		t.Fatalf("Approve() = %v", err)
	}
	if spec.Status != domain.StatusApprovedByCustomer {
		t.Errorf("Status = %q", spec.Status)
	}
}

func TestApprovePropagatesUpdateFailure(t *testing.T) {
	api := newFakeAPI()
	upstream := errors.New("update rejected")
	api.stubErr("PUT", "/item/42", upstream)
	svc, _ := newTestSpecService(t, api, newTestClock())

	if _, err := svc.Approve(context.Background(), testContactID, 42, "Jane Smith"); !errors.Is(err, upstream) {
		t.Fatalf("Approve() = %v, want upstream error", err)
	}
	if n := api.callCount(); n != 1 {
		t.Errorf("calls after failed update = %d, want 1", n)
	}
}

func TestRequestChanges(t *testing.T) {
	api := newFakeAPI()
	api.stub("PUT", "/item/42", `{}`)
	api.stub("POST", "/comment/item/42/", `{"comment_id": 9, "value": "Changes requested by Jane Smith: Wrong barcode.", "created_on": "2025-06-01 12:00:00", "created_by": {"name": "Portal"}}`)
	api.stub("GET", "/item/42", specItem(42, "Olive Oil 500ml", "Changes Requested"))
	stubComments(api, 42, `[]`)
	svc, _ := newTestSpecService(t, api, newTestClock())

	spec, err := svc.RequestChanges(context.Background(), testContactID, 42, "Jane Smith", "Wrong barcode.")
	if err != nil {
		t.Fatalf("RequestChanges() = %v", err)
	}
	if spec.Status != domain.StatusChangesRequested {
		t.Errorf("Status = %q", spec.Status)
	}

	raw, ok := api.calls[0].body.(json.RawMessage)
	if !ok {
		t.Fatalf("PUT body type %T", api.calls[0].body)
	}
	var payload struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Fields["customer-approval-status"] != "Changes Requested" {
		t.Errorf("status field = %v", payload.Fields["customer-approval-status"])
	}
	if payload.Fields["customer-requested-changes"] != "Wrong barcode." {
		t.Errorf("requested-changes = %v", payload.Fields["customer-requested-changes"])
	}
	if _, ok := payload.Fields["approved-by"]; ok {
		t.Error("change request carries an approver")
	}
	if _, ok := payload.Fields["approval-date"]; ok {
		t.Error("change request carries an approval date")
	}

	// The reason is also posted to the comment thread.
	var comment *apiCall
	for i := range api.calls {
		if api.calls[i].method == "POST" && api.calls[i].endpoint == "/comment/item/42/" {
			comment = &api.calls[i]
		}
	}
	if comment == nil {
		t.Fatal("no comment posted")
	}
	body, _ := comment.body.(map[string]any)
	if body["value"] != "Changes requested by Jane Smith: Wrong barcode." {
		t.Errorf("comment value = %v", body["value"])
	}
}

func TestRequestChangesRequiresReason(t *testing.T) {
	api := newFakeAPI()
	svc, _ := newTestSpecService(t, api, newTestClock())

	if _, err := svc.RequestChanges(context.Background(), testContactID, 42, "Jane Smith", ""); !errors.Is(err, ErrChangesRequired) {
		t.Fatalf("RequestChanges() = %v, want ErrChangesRequired", err)
	}
	if n := api.callCount(); n != 0 {
		t.Errorf("platform called %d times without a reason", n)
	}
}

func TestAddComment(t *testing.T) {
	api := newFakeAPI()
	api.stub("POST", "/comment/item/42/", `{"comment_id": 11, "value": "A question.", "created_on": "2025-06-01 12:00:00", "created_by": {"name": "Jane Smith"}}`)
	svc, _ := newTestSpecService(t, api, newTestClock())

	c, err := svc.AddComment(context.Background(), 42, "A question.")
	if err != nil {
		t.Fatalf("AddComment() = %v", err)
	}
	if c.ID != 11 || c.Text != "A question." || c.Author != "Jane Smith" {
		t.Errorf("comment = %+v", c)
	}

	body, _ := api.lastCall(t).body.(map[string]any)
	if body["value"] != "A question." {
		t.Errorf("posted value = %v", body["value"])
	}
}
