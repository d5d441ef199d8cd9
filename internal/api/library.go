package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.io/infrasutra/smsdesk/internal/customer"
	"github.io/infrasutra/smsdesk/internal/quota"
	"github.io/infrasutra/smsdesk/internal/sms"
	"github.io/infrasutra/smsdesk/internal/store"
)

type groupResponse struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Contacts  int64  `json:"contacts"`
	CreatedAt string `json:"createdAt"`
}

type contactResponse struct {
	UID       string `json:"uid"`
	Phone     string `json:"phone"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	CreatedAt string `json:"createdAt"`
}

type blacklistResponse struct {
	UID       string `json:"uid"`
	Number    string `json:"number"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"createdAt"`
}

type templateResponse struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

// allowance answers whether the plan of userID has room for one more item
// of the limit picked by pick, counted by count.
func (s *Server) allowance(ctx context.Context, userID int64, pick func(customer.Limits) quota.Limit, count func(context.Context, int64) (int64, error)) (bool, error) {
	account, err := s.customers.Account(ctx, userID)
	if errors.Is(err, customer.ErrNoSubscription) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	used, err := count(ctx, userID)
	if err != nil {
		return false, err
	}
	return pick(account.Limits).Allows(used), nil
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request, user store.User) {
	params, page := listPage(r)
	groups, total, err := s.store.ListContactGroups(r.Context(), user.ID, page)
	if err != nil {
		s.storeError(w, err, "list groups")
		return
	}
	items := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		items = append(items, groupResponse{UID: g.UID, Name: g.Name, Contacts: g.Contacts, CreatedAt: formatTime(g.CreatedAt)})
	}
	s.respondJSON(w, http.StatusOK, newListResponse(items, total, params))
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request, user store.User) {
	var payload struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	name := sanitize(payload.Name)
	if name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	ok, err := s.allowance(r.Context(), user.ID,
		func(l customer.Limits) quota.Limit { return l.Lists },
		s.store.CountContactGroups)
	if err != nil {
		s.storeError(w, err, "check plan")
		return
	}
	if !ok {
		http.Error(w, "contact list limit reached", http.StatusForbidden)
		return
	}
	group, err := s.store.CreateContactGroup(r.Context(), user.ID, name, s.now())
	if err != nil {
		s.storeError(w, err, "create group")
		return
	}
	s.respondJSON(w, http.StatusCreated, groupResponse{UID: group.UID, Name: group.Name, CreatedAt: formatTime(group.CreatedAt)})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request, user store.User) {
	s.respondDeleted(w, r, user, s.store.DeleteContactGroup, "delete group")
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request, user store.User) {
	group, err := s.store.GetContactGroup(r.Context(), user.ID, r.PathValue("uid"))
	if err != nil {
		s.storeError(w, err, "load group")
		return
	}
	params, page := listPage(r)
	contacts, total, err := s.store.ListContacts(r.Context(), group.ID, page)
	if err != nil {
		s.storeError(w, err, "list contacts")
		return
	}
	items := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, contactResponse{UID: c.UID, Phone: c.Phone, FirstName: c.FirstName, LastName: c.LastName, CreatedAt: formatTime(c.CreatedAt)})
	}
	s.respondJSON(w, http.StatusOK, newListResponse(items, total, params))
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request, user store.User) {
	group, err := s.store.GetContactGroup(r.Context(), user.ID, r.PathValue("uid"))
	if err != nil {
		s.storeError(w, err, "load group")
		return
	}
	var payload struct {
		Phone     string `json:"phone"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	phone := sms.NormalizeNumber(payload.Phone)
	if !sms.ValidNumber(phone) {
		http.Error(w, "invalid phone number", http.StatusBadRequest)
		return
	}
	ok, err := s.allowance(r.Context(), user.ID,
		func(l customer.Limits) quota.Limit { return l.Subscribers },
		s.store.CountContacts)
	if err != nil {
		s.storeError(w, err, "check plan")
		return
	}
	if !ok {
		http.Error(w, "contact limit reached", http.StatusForbidden)
		return
	}
	contact, err := s.store.AddContact(r.Context(), store.Contact{
		GroupID:   group.ID,
		UserID:    user.ID,
		Phone:     phone,
		FirstName: sanitize(payload.FirstName),
		LastName:  sanitize(payload.LastName),
		CreatedAt: s.now(),
	})
	if err != nil {
		s.storeError(w, err, "add contact")
		return
	}
	s.respondJSON(w, http.StatusCreated, contactResponse{UID: contact.UID, Phone: contact.Phone, FirstName: contact.FirstName, LastName: contact.LastName, CreatedAt: formatTime(contact.CreatedAt)})
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request, user store.User) {
	s.respondDeleted(w, r, user, s.store.DeleteContact, "delete contact")
}

func (s *Server) handleListBlacklists(w http.ResponseWriter, r *http.Request, user store.User) {
	params, page := listPage(r)
	entries, total, err := s.store.ListBlacklists(r.Context(), user.ID, page)
	if err != nil {
		s.storeError(w, err, "list blacklists")
		return
	}
	items := make([]blacklistResponse, 0, len(entries))
	for _, b := range entries {
		items = append(items, blacklistResponse{UID: b.UID, Number: b.Number, Reason: b.Reason, CreatedAt: formatTime(b.CreatedAt)})
	}
	s.respondJSON(w, http.StatusOK, newListResponse(items, total, params))
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request, user store.User) {
	var payload struct {
		Number string `json:"number"`
		Reason string `json:"reason"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	number := sms.NormalizeNumber(payload.Number)
	if !sms.ValidNumber(number) {
		http.Error(w, "invalid phone number", http.StatusBadRequest)
		return
	}
	entry, err := s.store.AddBlacklist(r.Context(), user.ID, number, sanitize(payload.Reason), s.now())
	if err != nil {
		s.storeError(w, err, "add blacklist")
		return
	}
	s.respondJSON(w, http.StatusCreated, blacklistResponse{UID: entry.UID, Number: entry.Number, Reason: entry.Reason, CreatedAt: formatTime(entry.CreatedAt)})
}

func (s *Server) handleDeleteBlacklist(w http.ResponseWriter, r *http.Request, user store.User) {
	s.respondDeleted(w, r, user, s.store.DeleteBlacklist, "delete blacklist")
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request, user store.User) {
	params, page := listPage(r)
	templates, total, err := s.store.ListTemplates(r.Context(), user.ID, page)
	if err != nil {
		s.storeError(w, err, "list templates")
		return
	}
	items := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		items = append(items, templateResponse{UID: t.UID, Name: t.Name, Message: t.Message, CreatedAt: formatTime(t.CreatedAt)})
	}
	s.respondJSON(w, http.StatusOK, newListResponse(items, total, params))
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request, user store.User) {
	var payload struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	name := sanitize(payload.Name)
	message := strings.TrimSpace(payload.Message)
	if name == "" || message == "" {
		http.Error(w, "name and message required", http.StatusBadRequest)
		return
	}
	t, err := s.store.CreateTemplate(r.Context(), user.ID, name, message, s.now())
	if err != nil {
		s.storeError(w, err, "create template")
		return
	}
	s.respondJSON(w, http.StatusCreated, templateResponse{UID: t.UID, Name: t.Name, Message: t.Message, CreatedAt: formatTime(t.CreatedAt)})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request, user store.User) {
	s.respondDeleted(w, r, user, s.store.DeleteTemplate, "delete template")
}

type deleteFunc func(ctx context.Context, userID int64, uid string) (bool, error)

func (s *Server) respondDeleted(w http.ResponseWriter, r *http.Request, user store.User, del deleteFunc, action string) {
	deleted, err := del(r.Context(), user.ID, r.PathValue("uid"))
	if err != nil {
		s.storeError(w, err, action)
		return
	}
	if !deleted {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
