package handlers

import (
	"net/http"
	"strconv"

	"todoshare/models"
)

func taskID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("task_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &models.ValidationError{Field: "task_id", Message: "must be a positive integer"}
	}
	return id, nil
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	var input models.TaskInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	task, err := h.tasks.Create(r.Context(), user, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	tasks, err := h.tasks.List(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	id, err := taskID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var input models.TaskInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	task, err := h.tasks.Update(r.Context(), user, id, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	id, err := taskID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.tasks.Delete(r.Context(), user, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
