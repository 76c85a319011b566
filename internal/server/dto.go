package server

import (
	"atelier/internal/domain"
)

// Request payloads

type SubmitItemRequest struct {
	Domain      string          `json:"domain"`
	Kind        string          `json:"kind,omitempty"`
	Priority    string          `json:"priority,omitempty" enum:"high,normal,low"`
	CostOfDelay float64         `json:"cost_of_delay,omitempty"`
	JobSize     float64         `json:"job_size"`
	Spec        domain.WorkSpec `json:"spec"`
}

type DepositArtifactRequest struct {
	Code       string `json:"code"`
	Format     string `json:"format" enum:"svg,latex,html,raw"`
	ParseError string `json:"parse_error,omitempty"`
}

type RecordValidationRequest struct {
	Results       []domain.CriticResult `json:"results,omitempty"`
	MasterScore   float64               `json:"master_score,omitempty"`
	WeightedScore float64               `json:"weighted_score,omitempty"`
	Approved      bool                  `json:"approved"`
	Feedback      string                `json:"feedback,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type ItemResponse struct {
	ID          string          `json:"id"`
	Domain      string          `json:"domain"`
	Kind        string          `json:"kind,omitempty"`
	Spec        domain.WorkSpec `json:"spec"`
	Priority    string          `json:"priority" enum:"high,normal,low"`
	CostOfDelay float64         `json:"cost_of_delay"`
	JobSize     float64         `json:"job_size"`
	Iteration   int             `json:"iteration"`
	ParentID    *string         `json:"parent_id,omitempty"`
	Status      string          `json:"status" enum:"pending,in_progress,iterating,approved,failed"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

type ArtifactResponse struct {
	ItemID     string `json:"item_id"`
	Code       string `json:"code"`
	Format     string `json:"format" enum:"svg,latex,html,raw"`
	ParseError string `json:"parse_error,omitempty"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type ValidationResponse struct {
	ItemID        string                `json:"item_id"`
	Iteration     int                   `json:"iteration"`
	Results       []domain.CriticResult `json:"results"`
	MasterScore   float64               `json:"master_score"`
	WeightedScore float64               `json:"weighted_score"`
	Approved      bool                  `json:"approved"`
	Forced        bool                  `json:"forced,omitempty"`
	Feedback      string                `json:"feedback,omitempty"`
	CreatedAt     string                `json:"created_at" format:"date-time"`
}

// AdvanceResponse reports the convergence decision for a recorded validation.
type AdvanceResponse struct {
	Outcome   string        `json:"outcome" enum:"approved,iterated,force_approved"`
	Item      ItemResponse  `json:"item"`
	Successor *ItemResponse `json:"successor,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is the plaintext secret, present only in the create response.
	Key string `json:"key,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Domain     string `json:"domain,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

func artifactFromRequest(itemID string, req DepositArtifactRequest) domain.Artifact {
	return domain.Artifact{
		ItemID:     itemID,
		Code:       req.Code,
		Format:     req.Format,
		ParseError: req.ParseError,
	}
}

func validationFromRequest(item domain.WorkItem, req RecordValidationRequest) domain.ValidationResult {
	return domain.ValidationResult{
		ItemID:        item.ID,
		Iteration:     item.Iteration,
		Results:       req.Results,
		MasterScore:   req.MasterScore,
		WeightedScore: req.WeightedScore,
		Approved:      req.Approved,
		Feedback:      req.Feedback,
	}
}

func itemResponse(w domain.WorkItem) ItemResponse {
	return ItemResponse{
		ID:          w.ID,
		Domain:      w.Domain,
		Kind:        w.Kind,
		Spec:        w.Spec,
		Priority:    w.Priority,
		CostOfDelay: w.CostOfDelay,
		JobSize:     w.JobSize,
		Iteration:   w.Iteration,
		ParentID:    w.ParentID,
		Status:      w.Status,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func mapItems(items []domain.WorkItem) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, w := range items {
		out = append(out, itemResponse(w))
	}
	return out
}

func artifactResponse(a domain.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ItemID:     a.ItemID,
		Code:       a.Code,
		Format:     a.Format,
		ParseError: a.ParseError,
		UpdatedAt:  a.UpdatedAt,
	}
}

func validationResponse(v domain.ValidationResult) ValidationResponse {
	return ValidationResponse{
		ItemID:        v.ItemID,
		Iteration:     v.Iteration,
		Results:       v.Results,
		MasterScore:   v.MasterScore,
		WeightedScore: v.WeightedScore,
		Approved:      v.Approved,
		Forced:        v.Forced,
		Feedback:      v.Feedback,
		CreatedAt:     v.CreatedAt,
	}
}

func mapValidations(items []domain.ValidationResult) []ValidationResponse {
	out := make([]ValidationResponse, 0, len(items))
	for _, v := range items {
		out = append(out, validationResponse(v))
	}
	return out
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		Domain:     e.Domain,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapEvents(events []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	return out
}
