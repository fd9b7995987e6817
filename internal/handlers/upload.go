package handlers

import (
	"io"
	"net/http"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/services"
)

const maxUploadSize = 10 << 20 // 10MB

// readUpload pulls the "file" part and optional "text" field from a
// multipart form.
func readUpload(w http.ResponseWriter, r *http.Request) (data []byte, filename, text string, ok bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "Failed to parse form: "+err.Error())
		return nil, "", "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file provided: "+err.Error())
		return nil, "", "", false
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read file: "+err.Error())
		return nil, "", "", false
	}
	if len(data) > maxUploadSize {
		respondError(w, http.StatusRequestEntityTooLarge, "File exceeds 10MB")
		return nil, "", "", false
	}
	return data, header.Filename, r.FormValue("text"), true
}

// UploadImage posts an image message: the thumbnail goes out first, the
// full-resolution image follows.
func UploadImage(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	room, ok := roomParam(w, r, c)
	if !ok {
		return
	}
	data, filename, text, ok := readUpload(w, r)
	if !ok {
		return
	}
	msg, err := c.CreateImageMessage(r.Context(), room, data, filename, text)
	if err != nil && msg != nil {
		// The message is visible with its thumbnail only.
		writeJSON(w, http.StatusAccepted, Response{Success: false, Message: err.Error(), Data: msg})
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusCreated, msg)
}

// UploadFile posts a file message.
func UploadFile(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	room, ok := roomParam(w, r, c)
	if !ok {
		return
	}
	data, filename, text, ok := readUpload(w, r)
	if !ok {
		return
	}
	msg, err := c.CreateFileMessage(r.Context(), room, data, filename, text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusCreated, msg)
}

type fetchAttachmentRequest struct {
	Token *models.AttachmentToken `json:"token"`
}

// FetchAttachmentResponse carries a downloaded attachment. Data is base64 in
// JSON.
type FetchAttachmentResponse struct {
	Data     []byte            `json:"data"`
	Metadata map[string]string `json:"metadata"`
}

// FetchAttachment downloads the attachment behind a token. The download is
// cancelled when the client goes away.
func FetchAttachment(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	var req fetchAttachmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	type result struct {
		res services.AttachmentResult
		err error
	}
	done := make(chan result, 1)
	h := c.FetchAttachment(req.Token, nil, func(res services.AttachmentResult, err error) {
		done <- result{res, err}
	})

	select {
	case out := <-done:
		if out.err != nil {
			respondServiceError(w, out.err)
			return
		}
		respondOK(w, http.StatusOK, FetchAttachmentResponse{Data: out.res.Data, Metadata: out.res.Metadata})
	case <-r.Context().Done():
		if h != nil {
			h.Cancel()
		}
		logger.Info().Msg("attachment_fetch_abandoned")
	}
}
