package commerce_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/bookstore-engine/commerce"
)

func TestAccessPolicy_ViewAndPurchase(t *testing.T) {
	policy := commerce.AccessPolicy{}
	privileged := &commerce.User{ID: "p", Class: commerce.ClassPrivileged}
	restricted := &commerce.User{ID: "r", Class: commerce.ClassRestricted}
	public := &commerce.Book{ID: "pub", Visibility: commerce.VisibilityPublic}
	hidden := &commerce.Book{ID: "res", Visibility: commerce.VisibilityRestricted}

	tests := []struct {
		name string
		user *commerce.User
		book *commerce.Book
		want bool
	}{
		{"privileged user, public book", privileged, public, true},
		{"privileged user, restricted book", privileged, hidden, true},
		{"restricted user, public book", restricted, public, true},
		{"restricted user, restricted book", restricted, hidden, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.CanView(tt.user, tt.book))
			assert.Equal(t, tt.want, policy.CanPurchase(tt.user, tt.book))
		})
	}
}

func TestAccessPolicy_Download(t *testing.T) {
	policy := commerce.AccessPolicy{}
	public := &commerce.Book{ID: "pub", Visibility: commerce.VisibilityPublic}
	hidden := &commerce.Book{ID: "res", Visibility: commerce.VisibilityRestricted}

	owner := &commerce.User{ID: "u1", Class: commerce.ClassPrivileged}
	granted := &commerce.User{ID: "u2", Class: commerce.ClassPrivileged, RestrictedAccess: true}

	bought := func(u *commerce.User, b *commerce.Book) *commerce.PurchaseRecord {
		return &commerce.PurchaseRecord{ID: "p", UserID: u.ID, BookID: b.ID, Quantity: 1}
	}

	// GIVEN: No purchase record
	// THEN: Download is denied, even for a public book
	assert.False(t, policy.CanDownload(owner, public, nil))

	// GIVEN: A purchase of a public book
	// THEN: Download is allowed
	assert.True(t, policy.CanDownload(owner, public, bought(owner, public)))

	// GIVEN: A purchase of a restricted book without the grant
	// THEN: Download is denied
	assert.False(t, policy.CanDownload(owner, hidden, bought(owner, hidden)))

	// GIVEN: A purchase of a restricted book with the grant
	// THEN: Download is allowed
	assert.True(t, policy.CanDownload(granted, hidden, bought(granted, hidden)))

	// GIVEN: Someone else's purchase record
	// THEN: Download is denied
	assert.False(t, policy.CanDownload(granted, public, bought(owner, public)))
}

func TestAccessPolicy_Visible(t *testing.T) {
	policy := commerce.AccessPolicy{}
	books := []commerce.Book{
		{ID: "a", Visibility: commerce.VisibilityPublic},
		{ID: "b", Visibility: commerce.VisibilityRestricted},
		{ID: "c"},
	}

	restricted := &commerce.User{ID: "r", Class: commerce.ClassRestricted}
	privileged := &commerce.User{ID: "p", Class: commerce.ClassPrivileged}

	got := policy.Visible(restricted, books)
	assert.Len(t, got, 2)
	assert.Equal(t, commerce.BookID("a"), got[0].ID)
	assert.Equal(t, commerce.BookID("c"), got[1].ID, "empty visibility counts as public")

	assert.Len(t, policy.Visible(privileged, books), 3)
}
