package service

import (
	"context"
	"testing"

	"wabroadcast/internal/testutil"
)

func TestCreateContact(t *testing.T) {
	store := testutil.NewStore()
	svc := NewContactService(store.Contacts())
	ctx := context.Background()

	contact, err := svc.CreateContact(ctx, &CreateContactRequest{Phone: " +254700000001 ", FirstName: testutil.StringPtr("Alice"), LastName: testutil.StringPtr("  ")})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, contact.Phone, "+254700000001")
	testutil.AssertTrue(t, contact.Subscribed, "contacts default to subscribed")
	testutil.AssertTrue(t, contact.LastName == nil, "blank last name should be dropped")

	_, err = svc.CreateContact(ctx, &CreateContactRequest{Phone: "+254700000001"})
	assertErrorType[*ConflictError](t, err)
}

func TestCreateContact_RejectsNonE164(t *testing.T) {
	svc := NewContactService(testutil.NewStore().Contacts())

	for _, phone := range []string{"", "0700000001", "254700000001", "+0700000001", "+2547000a0001"} {
		_, err := svc.CreateContact(context.Background(), &CreateContactRequest{Phone: phone})
		assertErrorType[*ValidationError](t, err)
	}
}

func TestSetSubscription(t *testing.T) {
	store := testutil.NewStore()
	store.PutContact(testutil.NewTestContact(3, "Alice", ""))
	svc := NewContactService(store.Contacts())

	contact, err := svc.SetSubscription(context.Background(), 3, false)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, contact.Subscribed, false)

	_, err = svc.SetSubscription(context.Background(), 4, false)
	assertErrorType[*NotFoundError](t, err)
}

func TestListContacts(t *testing.T) {
	store := testutil.NewStore()
	for i := 1; i <= 3; i++ {
		store.PutContact(testutil.NewTestContact(i, "C", ""))
	}
	svc := NewContactService(store.Contacts())

	contacts, pagination, err := svc.ListContacts(context.Background(), 1, 2)

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(contacts), 2)
	testutil.AssertEqual(t, contacts[0].ID, 3)
	testutil.AssertEqual(t, pagination.TotalPages, 2)
}

func TestTemplateCatalog(t *testing.T) {
	store := testutil.NewStore()
	catalog := NewTemplateCatalog(store.Templates(), NewTemplateService())
	ctx := context.Background()

	template, err := catalog.CreateTemplate(ctx, &CreateTemplateRequest{Name: "welcome", Body: "Hi {first_name}"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, template.Category, "marketing")

	_, err = catalog.CreateTemplate(ctx, &CreateTemplateRequest{Name: "welcome", Body: "again"})
	assertErrorType[*ConflictError](t, err)

	_, err = catalog.CreateTemplate(ctx, &CreateTemplateRequest{Name: "broken", Body: "Hi {first_name"})
	assertErrorType[*ValidationError](t, err)

	_, err = catalog.GetTemplate(ctx, 999)
	assertErrorType[*NotFoundError](t, err)

	templates, err := catalog.ListTemplates(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(templates), 1)
}
