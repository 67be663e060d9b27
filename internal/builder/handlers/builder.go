package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"widget-builder/internal/builder/instance"
	"widget-builder/internal/builder/models"
	"widget-builder/internal/builder/service"
	"widget-builder/internal/builder/store"
	"widget-builder/internal/builder/units"
)

// SessionHeader несёт id сессии редактора для выделения.
const SessionHeader = "X-Editor-Session"

// ============================================================
// Builder Handler
// ============================================================

type BuilderHandler struct {
	builder *service.Builder
	log     zerolog.Logger
}

func NewBuilderHandler(builder *service.Builder, log zerolog.Logger) *BuilderHandler {
	return &BuilderHandler{builder: builder, log: log}
}

// Register вешает маршруты редактора на router.
func (h *BuilderHandler) Register(r fiber.Router) {
	r.Post("/sessions", h.OpenSession)
	r.Get("/definitions", h.ListDefinitions)

	r.Get("/widgets", h.ListWidgets)
	r.Post("/widgets", h.CreateWidget)
	r.Get("/widgets/active", h.GetActiveWidget)
	r.Put("/widgets/active", h.SetActiveWidget)
	r.Get("/widgets/:id", h.GetWidget)
	r.Patch("/widgets/:id", h.UpdateWidget)
	r.Delete("/widgets/:id", h.DeleteWidget)
	r.Post("/widgets/:id/show", h.ShowWidget)
	r.Post("/widgets/:id/hide", h.HideWidget)
	r.Post("/widgets/:id/toggle", h.ToggleWidget)
	r.Get("/widgets/:id/hierarchy", h.GetHierarchy)

	r.Post("/widgets/:id/components", h.CreateComponent)
	r.Get("/widgets/:id/components/:cid", h.GetComponent)
	r.Patch("/widgets/:id/components/:cid", h.UpdateComponent)
	r.Delete("/widgets/:id/components/:cid", h.RemoveComponent)
	r.Post("/widgets/:id/components/:cid/move", h.MoveComponent)
	r.Post("/widgets/:id/components/:cid/relocate", h.RelocateComponent)
	r.Post("/widgets/:id/components/:cid/copy", h.CopyComponent)
	r.Post("/widgets/:id/components/:cid/reorder", h.ReorderComponent)

	r.Get("/instances/:iid/placement", h.FindByInstance)
	r.Post("/hierarchy/rebuild", h.RebuildHierarchy)

	r.Get("/selection", h.GetSelection)
	r.Put("/selection", h.Select)
	r.Delete("/selection", h.Deselect)
}

// fail переводит доменную ошибку в HTTP статус.
func (h *BuilderHandler) fail(c fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrWidgetNotFound),
		errors.Is(err, store.ErrComponentNotFound),
		errors.Is(err, store.ErrParentNotFound),
		errors.Is(err, store.ErrTargetNotFound),
		errors.Is(err, instance.ErrDefinitionNotFound),
		errors.Is(err, instance.ErrInstanceNotFound),
		errors.Is(err, instance.ErrBindingNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidArgument),
		errors.Is(err, service.ErrSameWidget),
		errors.Is(err, units.ErrUnknownUnit),
		errors.Is(err, units.ErrCategoryMismatch),
		errors.Is(err, units.ErrContextRequired):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrCycle):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var (
	errEmptyBody   = errors.New("empty body")
	errInvalidJSON = errors.New("invalid json")
)

func decode(c fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(c.Body(), dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// ============================================================
// Sessions & catalog
// ============================================================

func (h *BuilderHandler) OpenSession(c fiber.Ctx) error {
	session := h.builder.Selection().Issue()
	return c.Status(http.StatusCreated).JSON(fiber.Map{"session": session})
}

func (h *BuilderHandler) ListDefinitions(c fiber.Ctx) error {
	return c.JSON(h.builder.Instances().Catalog().Definitions())
}

// ============================================================
// Widgets
// ============================================================

type createWidgetRequest struct {
	Name        string             `json:"name"`
	Position    *units.Position    `json:"position"`
	DisplayType models.DisplayType `json:"displayType"`
}

func (h *BuilderHandler) ListWidgets(c fiber.Ctx) error {
	return c.JSON(h.builder.Store().Widgets())
}

func (h *BuilderHandler) CreateWidget(c fiber.Ctx) error {
	var req createWidgetRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.Name == "" {
		return badRequest(c, "name required")
	}
	pos := units.Pos(0, 0)
	if req.Position != nil {
		pos = *req.Position
	}
	display := req.DisplayType
	if display == "" {
		display = models.DisplayCanvas
	}
	if !display.Valid() {
		return badRequest(c, "unknown displayType")
	}
	w := h.builder.CreateWidget(req.Name, pos, display)
	return c.Status(http.StatusCreated).JSON(w)
}

func (h *BuilderHandler) GetWidget(c fiber.Ctx) error {
	w := h.builder.Store().Widget(c.Params("id"))
	if w == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "widget not found"})
	}
	return c.JSON(w)
}

func (h *BuilderHandler) UpdateWidget(c fiber.Ctx) error {
	var patch store.WidgetPatch
	if err := decode(c, &patch); err != nil {
		return badRequest(c, err.Error())
	}
	w, err := h.builder.UpdateWidget(c.Params("id"), patch)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(w)
}

func (h *BuilderHandler) DeleteWidget(c fiber.Ctx) error {
	if err := h.builder.DeleteWidget(c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (h *BuilderHandler) ShowWidget(c fiber.Ctx) error {
	on := true
	return h.visibility(c, &on)
}

func (h *BuilderHandler) HideWidget(c fiber.Ctx) error {
	off := false
	return h.visibility(c, &off)
}

func (h *BuilderHandler) ToggleWidget(c fiber.Ctx) error {
	return h.visibility(c, nil)
}

func (h *BuilderHandler) visibility(c fiber.Ctx, visible *bool) error {
	w, err := h.builder.SetVisibility(c.Params("id"), visible)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(w)
}

func (h *BuilderHandler) GetActiveWidget(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"widgetId": h.builder.Store().ActiveWidgetID()})
}

func (h *BuilderHandler) SetActiveWidget(c fiber.Ctx) error {
	var req struct {
		WidgetID string `json:"widgetId"`
	}
	if err := decode(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.builder.SetActiveWidget(req.WidgetID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"widgetId": req.WidgetID})
}

func (h *BuilderHandler) GetHierarchy(c fiber.Ctx) error {
	opts := store.HierarchyOptions{
		Debug:      queryBool(c, "debug", false),
		OmitWidget: !queryBool(c, "includeWidget", true),
	}
	tree, err := h.builder.Hierarchy(c.Context(), c.Params("id"), opts)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(tree)
}

func queryBool(c fiber.Ctx, key string, def bool) bool {
	v := c.Query(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ============================================================
// Components
// ============================================================

type createComponentRequest struct {
	DefinitionID string          `json:"definitionId"`
	ParentID     string          `json:"parentId"`
	Position     *units.Position `json:"position"`
	Overrides    map[string]any  `json:"overrides"`
	Select       bool            `json:"select"`
}

func (h *BuilderHandler) CreateComponent(c fiber.Ctx) error {
	var req createComponentRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.DefinitionID == "" {
		return badRequest(c, "definitionId required")
	}
	opts := service.CreateOptions{
		ParentID:  req.ParentID,
		Position:  req.Position,
		Overrides: req.Overrides,
	}
	if req.Select {
		opts.SelectFor = c.Get(SessionHeader)
	}
	comp, err := h.builder.CreateComponent(c.Params("id"), req.DefinitionID, opts)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(comp)
}

func (h *BuilderHandler) GetComponent(c fiber.Ctx) error {
	comp := h.builder.Store().FindComponent(c.Params("id"), c.Params("cid"))
	if comp == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "component not found"})
	}
	return c.JSON(comp)
}

func (h *BuilderHandler) FindByInstance(c fiber.Ctx) error {
	comp, widgetID := h.builder.Store().FindComponentByInstanceID(c.Params("iid"))
	if comp == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "instance not placed"})
	}
	return c.JSON(fiber.Map{"widgetId": widgetID, "component": comp})
}

func (h *BuilderHandler) UpdateComponent(c fiber.Ctx) error {
	var patch store.ComponentPatch
	if err := decode(c, &patch); err != nil {
		return badRequest(c, err.Error())
	}
	comp, err := h.builder.UpdateComponent(c.Params("id"), c.Params("cid"), patch)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(comp)
}

// RemoveComponent: ?removeChildren=false&promoteChildren=true выбирают политику.
func (h *BuilderHandler) RemoveComponent(c fiber.Ctx) error {
	policy := store.PolicyFromFlags(queryBool(c, "removeChildren", true), queryBool(c, "promoteChildren", false))
	removed, err := h.builder.RemoveComponent(c.Params("id"), c.Params("cid"), policy)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"removed": removed, "policy": policy.String()})
}

type moveRequest struct {
	NewParentID         string `json:"newParentId"`
	DestinationWidgetID string `json:"destinationWidgetId"`
}

func (h *BuilderHandler) MoveComponent(c fiber.Ctx) error {
	var req moveRequest
	if len(c.Body()) > 0 {
		if err := decode(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
	}
	if err := h.builder.MoveComponent(c.Params("id"), c.Params("cid"), req.NewParentID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"moved": true})
}

func (h *BuilderHandler) RelocateComponent(c fiber.Ctx) error {
	var req moveRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	err := h.builder.RelocateComponent(c.Params("id"), c.Params("cid"), req.DestinationWidgetID, req.NewParentID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"moved": true})
}

func (h *BuilderHandler) CopyComponent(c fiber.Ctx) error {
	var req moveRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	m, err := h.builder.CopyComponentToWidget(c.Params("id"), c.Params("cid"), req.DestinationWidgetID, req.NewParentID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"moved": true, "instanceMap": m})
}

type reorderRequest struct {
	ContainerID string             `json:"containerId"`
	TargetID    string             `json:"targetId"`
	Position    store.DropPosition `json:"position"`
}

func (h *BuilderHandler) ReorderComponent(c fiber.Ctx) error {
	var req reorderRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	widgetID := c.Params("id")
	if req.ContainerID == "" {
		req.ContainerID = widgetID
	}
	err := h.builder.ReorderComponents(widgetID, req.ContainerID, c.Params("cid"), req.TargetID, req.Position)
	if err != nil {
		return h.fail(c, err)
	}
	order, _ := h.builder.Store().SiblingOrder(widgetID, req.ContainerID)
	return c.JSON(fiber.Map{"order": order})
}

func (h *BuilderHandler) RebuildHierarchy(c fiber.Ctx) error {
	var tree []*store.HierarchyNode
	if err := decode(c, &tree); err != nil {
		return badRequest(c, err.Error())
	}
	stats, err := h.builder.RebuildComponentHierarchyFromTree(tree)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(stats)
}

// ============================================================
// Selection
// ============================================================

func (h *BuilderHandler) session(c fiber.Ctx) (string, bool) {
	s := c.Get(SessionHeader)
	return s, s != ""
}

func (h *BuilderHandler) GetSelection(c fiber.Ctx) error {
	session, ok := h.session(c)
	if !ok {
		return badRequest(c, "session header required")
	}
	sel, ok := h.builder.Selected(session)
	if !ok {
		return c.JSON(fiber.Map{"selection": nil})
	}
	return c.JSON(fiber.Map{"selection": sel})
}

func (h *BuilderHandler) Select(c fiber.Ctx) error {
	session, ok := h.session(c)
	if !ok {
		return badRequest(c, "session header required")
	}
	var sel service.Selection
	if err := decode(c, &sel); err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.builder.Select(session, sel.WidgetID, sel.ComponentID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"selection": sel})
}

func (h *BuilderHandler) Deselect(c fiber.Ctx) error {
	session, ok := h.session(c)
	if !ok {
		return badRequest(c, "session header required")
	}
	h.builder.Deselect(session)
	return c.SendStatus(http.StatusNoContent)
}
