package scan

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/game-scanner/internal/inference"
)

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		files       *mockFiles
		backend     *mockBackend
		dispatcher  *mockDispatcher
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		store = newMockStore()
		files = newMockFiles()
		backend = newMockBackend()
		dispatcher = &mockDispatcher{}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(store, files, backend, Options{StageTimeout: time.Second},
			dispatcher, &mockIDGenerator{}, &mockTimeSource{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, 1<<20, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(".*"), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	postJSON := func(path string, body any) *http.Response {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
	}

	errorCode := func(resp *http.Response) string {
		var payload errorPayload
		decode(resp, &payload)
		return payload.Error.Code
	}

	upload := func(contentType string, data []byte) *http.Response {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="photo"`)
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghttpServer.URL()+"/v1/scans", &body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("X-Session-Id", "session-42")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("POST /v1/scans", func() {
		When("a JPEG is uploaded", func() {
			It("should return 201 with the scan id and UPLOADED", func() {
				resp := upload("image/jpeg", []byte("photo"))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var body map[string]string
				decode(resp, &body)
				Expect(body).To(HaveKeyWithValue("scanId", "id-1"))
				Expect(body).To(HaveKeyWithValue("status", "UPLOADED"))
				Expect(store.scan("id-1").SessionID).To(Equal("session-42"))
				Expect(dispatcher.submitted).To(ConsistOf("id-1"))
			})
		})

		When("a PDF is uploaded", func() {
			It("should return INVALID_FILE_TYPE", func() {
				resp := upload("application/pdf", []byte("%PDF"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorCode(resp)).To(Equal("INVALID_FILE_TYPE"))
			})
		})

		When("the file is too large", func() {
			It("should return a validation error", func() {
				resp := upload("image/jpeg", bytes.Repeat([]byte{1}, 3<<19))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorCode(resp)).To(Equal("VALIDATION_ERROR"))
			})
		})

		When("no file is sent", func() {
			It("should return a validation error", func() {
				var body bytes.Buffer
				writer := multipart.NewWriter(&body)
				Expect(writer.WriteField("other", "value")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/v1/scans", writer.FormDataContentType(), &body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorCode(resp)).To(Equal("VALIDATION_ERROR"))
			})
		})
	})

	Describe("GET /v1/scans/{id}", func() {
		When("the scan exists", func() {
			BeforeEach(func() {
				store.put(confirmedScan("scan-1", StatusPriced))
				store.samples = append(store.samples, &PriceSample{ID: "s1", ScanID: "scan-1", Source: SourceManual, Price: 20, Currency: Currency})
			})

			It("should return the scan with candidates and samples", func() {
				resp, err := http.Get(ghttpServer.URL() + "/v1/scans/scan-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var body struct {
					ID                 string                `json:"id"`
					Status             string                `json:"status"`
					Candidates         []inference.Candidate `json:"candidates"`
					ConfirmedTitle     string                `json:"confirmedTitle"`
					ConfirmedCondition string                `json:"confirmedCondition"`
					IsComplete         *bool                 `json:"isComplete"`
					PriceSamples       []PriceSample         `json:"priceSamples"`
				}
				decode(resp, &body)
				Expect(body.ID).To(Equal("scan-1"))
				Expect(body.Status).To(Equal("PRICED"))
				Expect(body.Candidates).To(HaveLen(2))
				Expect(body.ConfirmedTitle).To(Equal("Die Siedler von Catan"))
				Expect(body.ConfirmedCondition).To(Equal("GOOD"))
				Expect(*body.IsComplete).To(BeTrue())
				Expect(body.PriceSamples).To(HaveLen(1))
			})
		})

		When("the scan failed", func() {
			BeforeEach(func() {
				store.put(&Scan{ID: "scan-1", Status: StatusError, ErrorMessage: "inference backend error: quota"})
			})

			It("should expose the error message", func() {
				resp, err := http.Get(ghttpServer.URL() + "/v1/scans/scan-1")
				Expect(err).NotTo(HaveOccurred())
				var body map[string]any
				decode(resp, &body)
				Expect(body).To(HaveKeyWithValue("error", "inference backend error: quota"))
			})
		})

		When("the scan does not exist", func() {
			It("should return 404 NOT_FOUND", func() {
				resp, err := http.Get(ghttpServer.URL() + "/v1/scans/missing")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(errorCode(resp)).To(Equal("NOT_FOUND"))
			})
		})
	})

	Describe("GET /v1/scans/{id}/image", func() {
		BeforeEach(func() {
			store.put(analyzedScan("scan-1"))
			files.files["image-1.jpg"] = []byte("jpeg-bytes")
		})

		It("should stream the stored image", func() {
			resp, err := http.Get(ghttpServer.URL() + "/v1/scans/scan-1/image")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("jpeg-bytes"))
		})
	})

	Describe("POST /v1/scans/{id}/confirm", func() {
		var body map[string]any

		BeforeEach(func() {
			store.put(analyzedScan("scan-1"))
			body = map[string]any{
				"title":      "Die Siedler von Catan",
				"language":   "DE",
				"condition":  "GOOD",
				"isComplete": true,
			}
		})

		It("should return the normalized title", func() {
			resp := postJSON("/v1/scans/scan-1/confirm", body)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result ConfirmResult
			decode(resp, &result)
			Expect(result.NormalizedTitle).To(Equal("Die Siedler von Catan"))
			Expect(result.Status).To(Equal(StatusAnalyzed))
		})

		It("should reject an unknown condition", func() {
			body["condition"] = "MINT"
			resp := postJSON("/v1/scans/scan-1/confirm", body)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorCode(resp)).To(Equal("VALIDATION_ERROR"))
		})

		It("should reject malformed JSON", func() {
			resp, err := http.Post(ghttpServer.URL()+"/v1/scans/scan-1/confirm", "application/json", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorCode(resp)).To(Equal("VALIDATION_ERROR"))
		})

		When("the scan is still uploading", func() {
			BeforeEach(func() {
				store.put(&Scan{ID: "scan-1", Status: StatusUploaded})
			})

			It("should return SCAN_NOT_READY", func() {
				resp := postJSON("/v1/scans/scan-1/confirm", body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorCode(resp)).To(Equal("SCAN_NOT_READY"))
			})
		})

		When("the backend fails", func() {
			BeforeEach(func() {
				backend.normalizeErr = fmt.Errorf("%w: unavailable", inference.ErrBackend)
			})

			It("should return 502 AI_SERVICE_ERROR", func() {
				resp := postJSON("/v1/scans/scan-1/confirm", body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(errorCode(resp)).To(Equal("AI_SERVICE_ERROR"))
			})
		})
	})

	Describe("POST /v1/scans/{id}/pricing", func() {
		BeforeEach(func() {
			store.put(confirmedScan("scan-1", StatusAnalyzed))
		})

		It("should return the recommendation", func() {
			resp := postJSON("/v1/scans/scan-1/pricing", map[string]any{
				"manualPrices": []map[string]any{{"price": 25}, {"price": 30}, {"price": 20}},
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result PricingResult
			decode(resp, &result)
			Expect(result.RecommendedPrice).To(Equal(21))
			Expect(result.QuickSalePrice).To(Equal(17))
			Expect(result.NegotiationAnchor).To(Equal(24))
			Expect(result.RangeLow).To(Equal(15))
			Expect(result.RangeHigh).To(Equal(28))
			Expect(result.Confidence).To(Equal(85))
			Expect(result.Samples).To(HaveLen(3))
		})

		It("should accept an empty body", func() {
			resp, err := http.Post(ghttpServer.URL()+"/v1/scans/scan-1/pricing", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("should reject a negative price", func() {
			resp := postJSON("/v1/scans/scan-1/pricing", map[string]any{
				"manualPrices": []map[string]any{{"price": -5}},
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorCode(resp)).To(Equal("VALIDATION_ERROR"))
		})
	})

	Describe("POST /v1/scans/{id}/draft", func() {
		BeforeEach(func() {
			store.put(confirmedScan("scan-1", StatusPriced))
		})

		It("should return the generated listing", func() {
			resp := postJSON("/v1/scans/scan-1/draft", map[string]any{
				"price":             25,
				"shippingAvailable": true,
				"paypalAvailable":   false,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result DraftResult
			decode(resp, &result)
			Expect(result.TitleVariants).To(HaveLen(3))
			Expect(result.BulletPoints).To(HaveLen(5))
			Expect(result.SearchTags).To(HaveLen(5))
			Expect(result.Metadata.GameTitle).To(Equal("Die Siedler von Catan"))
			Expect(store.status("scan-1")).To(Equal(StatusDrafted))
		})

		When("the backend breaks the listing contract", func() {
			BeforeEach(func() {
				backend.listingErr = fmt.Errorf("%w: expected 5 search tags, got 4", inference.ErrBackend)
			})

			It("should return 502", func() {
				resp := postJSON("/v1/scans/scan-1/draft", map[string]any{"price": 25})
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(errorCode(resp)).To(Equal("AI_SERVICE_ERROR"))
			})
		})
	})

	Describe("health", func() {
		It("should report ok when the store responds", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]any
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("status", "ok"))
		})

		When("the store is down", func() {
			BeforeEach(func() {
				store.pingErr = errors.New("connection refused")
			})

			It("should report degraded", func() {
				resp, err := http.Get(ghttpServer.URL() + "/health")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				resp.Body.Close()
			})

			It("should not be ready", func() {
				resp, err := http.Get(ghttpServer.URL() + "/health/ready")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				resp.Body.Close()
			})
		})

		It("should always be live", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health/live")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest("OPTIONS", ghttpServer.URL()+"/v1/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Headers")).To(ContainSubstring("X-Session-Id"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "seller", Password: "secret"}
			store.put(analyzedScan("scan-1"))
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/v1/scans/scan-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/v1/scans/scan-1", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("seller:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("should leave health probes open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health/live")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})
})
