package commerce

// AccessPolicy decides what a user may do with a book.
//
//	              public book   restricted book
//	view          everyone      privileged only
//	purchase      everyone      privileged only
//	download      owner         owner with RestrictedAccess grant
type AccessPolicy struct{}

// CanView reports whether the book is visible to the user.
func (AccessPolicy) CanView(u *User, b *Book) bool {
	return b.IsPublic() || u.IsPrivileged()
}

// CanPurchase reports whether the user may buy the book.
func (AccessPolicy) CanPurchase(u *User, b *Book) bool {
	return b.IsPublic() || u.IsPrivileged()
}

// CanDownload reports whether the user may fetch the book's content.
// purchase is the user's record for this book, nil if they never bought it.
func (AccessPolicy) CanDownload(u *User, b *Book, purchase *PurchaseRecord) bool {
	if purchase == nil || purchase.UserID != u.ID || purchase.BookID != b.ID {
		return false
	}
	return b.IsPublic() || u.RestrictedAccess
}

// Visible filters books down to those the user may view.
func (p AccessPolicy) Visible(u *User, books []Book) []Book {
	out := make([]Book, 0, len(books))
	for i := range books {
		if p.CanView(u, &books[i]) {
			out = append(out, books[i])
		}
	}
	return out
}
