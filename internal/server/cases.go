package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
)

var guardErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type CasePath struct {
	CaseID string `path:"case_id"`
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Register a planning application case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*output[domain.Case], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCase(ctx, engine.CaseCreateOptions{
			ID:             input.Body.ID,
			Reference:      input.Body.Reference,
			Category:       input.Body.Category,
			Description:    input.Body.Description,
			ApplicantEmail: input.Body.ApplicantEmail,
			PaymentAmount:  input.Body.PaymentAmountPence,
			FromProduction: input.Body.FromProduction,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"not_started,invalidated,in_assessment,assessment_in_progress,to_be_reviewed,awaiting_determination,determined,returned,withdrawn,closed"`
		Category string `query:"category"`
		Limit    int    `query:"limit" default:"50"`
	}) (*output[paginatedCases], error) {
		items, err := e.Repo.ListCases(ctx, repo.CaseFilters{
			Status:   input.Status,
			Category: input.Category,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Case{}
		}
		return respond(paginatedCases{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get a case with its requests and records",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *CasePath) (*output[engine.CaseDetail], error) {
		d, err := e.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		d.Requests = nonNilRequests(d.Requests)
		return respond(d), nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "invalidate-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/invalidate",
		Summary:     "Invalidate a case and send its validation requests",
		Errors:      guardErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body InvalidateRequest `json:"body"`
	}) (*output[InvalidateResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, opened, err := e.Invalidate(ctx, engine.InvalidateOptions{
			CaseID:          input.CaseID,
			Reason:          input.Body.Reason,
			Requests:        specs(input.Body.Requests),
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(InvalidateResponse{Case: c, Requests: nonNilRequests(opened)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/validate",
		Summary:     "Validate a case and start its statutory clock",
		Errors:      guardErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body *ValidateRequest `json:"body,omitempty" required:"false"`
	}) (*output[domain.Case], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		body := input.Body
		if body == nil {
			body = &ValidateRequest{}
		}
		c, err := e.Validate(ctx, engine.ValidateOptions{
			CaseID:          input.CaseID,
			AsOf:            body.AsOfDate,
			ActorID:         actorID,
			ExpectedVersion: body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	transitions := []struct {
		id, path, summary string
		run               func(context.Context, engine.TransitionOptions) (domain.Case, error)
	}{
		{"start-assessment", "start-assessment", "Start assessing a validated case", e.StartAssessment},
		{"mark-to-be-reviewed", "mark-to-be-reviewed", "Send the assessment for review", e.MarkToBeReviewed},
		{"send-for-determination", "send-for-determination", "Send a reviewed case for determination", e.SendForDetermination},
	}
	for _, t := range transitions {
		huma.Register(api, huma.Operation{
			OperationID: t.id,
			Method:      http.MethodPost,
			Path:        "/cases/{case_id}/" + t.path,
			Summary:     t.summary,
			Errors:      guardErrors,
		}, func(ctx context.Context, input *struct {
			CasePath
			Body *TransitionRequest `json:"body,omitempty" required:"false"`
		}) (*output[domain.Case], error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			opts := engine.TransitionOptions{CaseID: input.CaseID, ActorID: actorID}
			if input.Body != nil {
				opts.ExpectedVersion = input.Body.ExpectedVersion
			}
			c, err := t.run(ctx, opts)
			if err != nil {
				return nil, handleError(err)
			}
			return respond(c), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "determine-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/determine",
		Summary:     "Record the decision on a case",
		Errors:      guardErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body DetermineRequest `json:"body"`
	}) (*output[domain.Case], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Determine(ctx, engine.DetermineOptions{
			CaseID:          input.CaseID,
			Decision:        input.Body.Decision,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	escapes := []struct {
		id, path, summary string
		run               func(context.Context, engine.EscapeOptions) (domain.Case, error)
	}{
		{"return-case", "return", "Return an invalid application", e.Return},
		{"withdraw-case", "withdraw", "Withdraw a case at the applicant's request", e.Withdraw},
		{"close-case", "close", "Close a case without a decision", e.Close},
	}
	for _, t := range escapes {
		huma.Register(api, huma.Operation{
			OperationID: t.id,
			Method:      http.MethodPost,
			Path:        "/cases/{case_id}/" + t.path,
			Summary:     t.summary,
			Errors:      guardErrors,
		}, func(ctx context.Context, input *struct {
			CasePath
			Body ReasonRequest `json:"body"`
		}) (*output[domain.Case], error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			c, err := t.run(ctx, engine.EscapeOptions{
				CaseID:          input.CaseID,
				Reason:          input.Body.Reason,
				ActorID:         actorID,
				ExpectedVersion: input.Body.ExpectedVersion,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return respond(c), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "reset-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/reset",
		Summary:     "Reset a non-production case to not started",
		Errors:      guardErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body ReasonRequest `json:"body"`
	}) (*output[domain.Case], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Reset(ctx, engine.ResetOptions{
			CaseID:          input.CaseID,
			Reason:          input.Body.Reason,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-eia",
		Method:      http.MethodPut,
		Path:        "/cases/{case_id}/environmental-impact-assessment",
		Summary:     "Set whether an environmental impact assessment is required",
		Errors:      guardErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body EIARequest `json:"body"`
	}) (*output[domain.Case], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SetEIARequired(ctx, engine.EIAOptions{
			CaseID:          input.CaseID,
			Required:        input.Body.Required,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-checklist-item",
		Method:      http.MethodPut,
		Path:        "/cases/{case_id}/checklist/{item}",
		Summary:     "Mark an assessment checklist item done or not done",
		Errors:      guardErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Item string           `path:"item"`
		Body ChecklistRequest `json:"body"`
	}) (*output[domain.Case], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SetChecklistItem(ctx, engine.ChecklistOptions{
			CaseID:          input.CaseID,
			Item:            input.Item,
			Done:            input.Body.Done,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})
}
