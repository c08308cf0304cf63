package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
)

type RequestPath struct {
	RequestID string `path:"request_id"`
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/requests",
		Summary:     "List a case's validation requests",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *CasePath) (*output[paginatedRequests], error) {
		items, err := e.ListRequests(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(paginatedRequests{Items: nonNilRequests(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/requests",
		Summary:       "Raise a validation request",
		DefaultStatus: http.StatusCreated,
		Errors:        guardErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body CreateRequestRequest `json:"body"`
	}) (*output[domain.ValidationRequest], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateRequest(ctx, engine.RequestCreateOptions{
			CaseID:          input.CaseID,
			Kind:            input.Body.Kind,
			Payload:         input.Body.Payload,
			Reason:          input.Body.Reason,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}",
		Summary:     "Get a validation request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *RequestPath) (*output[domain.ValidationRequest], error) {
		r, err := e.GetRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/close",
		Summary:     "Record the applicant's response and apply the outcome",
		Errors:      guardErrors,
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body CloseRequestRequest `json:"body"`
	}) (*output[domain.ValidationRequest], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CloseRequest(ctx, engine.CloseRequestOptions{
			RequestID:       input.RequestID,
			Response:        input.Body.Response,
			Approved:        input.Body.Approved,
			ByOfficer:       input.Body.ByOfficer,
			DocumentIDs:     input.Body.DocumentIDs,
			Certificate:     input.Body.Certificate.certificate(),
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/cancel",
		Summary:     "Cancel a pending or open validation request",
		Errors:      guardErrors,
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body CancelRequestRequest `json:"body"`
	}) (*output[domain.ValidationRequest], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CancelRequest(ctx, engine.CancelRequestOptions{
			RequestID:       input.RequestID,
			Reason:          input.Body.Reason,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auto-close-requests",
		Method:      http.MethodPost,
		Path:        "/requests/auto-close",
		Summary:     "Close description changes left unanswered past the deadline",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*output[AutoCloseResponse], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		closed, err := e.AutoCloseRequests(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(AutoCloseResponse{Closed: nonNilRequests(closed)}), nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/audit",
		Summary:     "List a case's audit trail, oldest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CasePath
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*output[paginatedAudit], error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := e.AuditLog(ctx, input.CaseID, limit+1, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAudit{Items: []domain.AuditEntry{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return respond(resp), nil
	})
}
