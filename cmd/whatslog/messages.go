package main

import (
	"net/http"
	"time"

	"whatslog/internal/constants"
	apperrors "whatslog/internal/errors"
	"whatslog/internal/models"
	"whatslog/internal/validation"
)

type contactsResponse struct {
	Contacts []models.ContactSummary `json:"contacts"`
	Date     string                  `json:"date"`
	Total    int                     `json:"total"`
}

type datesResponse struct {
	Dates []models.DaySummary `json:"dates"`
	Total int                 `json:"total"`
}

type messagesResponse struct {
	Messages []*models.StoredMessage `json:"messages"`
	Total    int                     `json:"total"`
}

func (s *Server) handleListContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := validation.ParseDay(r.URL.Query().Get("date"), time.Now())
		if err != nil {
			s.writeError(w, r, err, http.StatusBadRequest)
			return
		}

		contacts, err := s.deps.Messages.ListContacts(r.Context(), accountIDFrom(r.Context()), day)
		if err != nil {
			s.writeError(w, r, apperrors.NewDatabaseError("list contacts", err), 0)
			return
		}
		if contacts == nil {
			contacts = []models.ContactSummary{}
		}
		s.writeJSON(w, http.StatusOK, contactsResponse{
			Contacts: contacts,
			Date:     day.Format(validation.DateLayout),
			Total:    len(contacts),
		})
	}
}

func (s *Server) handleListDates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dates, err := s.deps.Messages.ListMessageDates(r.Context(), accountIDFrom(r.Context()))
		if err != nil {
			s.writeError(w, r, apperrors.NewDatabaseError("list message dates", err), 0)
			return
		}
		if dates == nil {
			dates = []models.DaySummary{}
		}
		s.writeJSON(w, http.StatusOK, datesResponse{Dates: dates, Total: len(dates)})
	}
}

// handleListMessages returns one contact's messages for one day, oldest first.
func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		contact := query.Get("contact")
		if err := validation.ValidateContact(contact); err != nil {
			s.writeError(w, r, err, http.StatusBadRequest)
			return
		}
		day, err := validation.ParseDay(query.Get("date"), time.Now())
		if err != nil {
			s.writeError(w, r, err, http.StatusBadRequest)
			return
		}

		messages, err := s.deps.Messages.ListConversation(r.Context(), accountIDFrom(r.Context()), contact, day, constants.MaxMessagesPerQuery)
		if err != nil {
			s.writeError(w, r, apperrors.NewDatabaseError("list conversation", err), 0)
			return
		}
		if messages == nil {
			messages = []*models.StoredMessage{}
		}
		s.writeJSON(w, http.StatusOK, messagesResponse{Messages: messages, Total: len(messages)})
	}
}
