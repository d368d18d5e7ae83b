package api

import (
	"net/http"
	"strconv"
	"time"

	"learnhub/internal/apperr"
	"learnhub/internal/catalog"
	"learnhub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout    *service.CheckoutService
	reconcile   *service.ReconcileService
	enrollments *service.EnrollmentService
	catalog     *catalog.Service
	jwtSecret   string
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *service.CheckoutService, reconcile *service.ReconcileService, enrollments *service.EnrollmentService, cat *catalog.Service, jwtSecret string) *Handler {
	return &Handler{
		checkout:    checkout,
		reconcile:   reconcile,
		enrollments: enrollments,
		catalog:     cat,
		jwtSecret:   jwtSecret,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Provider callbacks carry their own HMAC signature instead of a
		// bearer token.
		v1.GET("/payment/ipn", h.paymentIPN)
		v1.POST("/payment/ipn", h.paymentIPN)
		v1.GET("/payment/return", h.paymentReturn)
		v1.GET("/payment/verify", h.paymentVerify)

		v1.GET("/courses/:slug", h.getCourse)
		v1.GET("/courses/:slug/outline", h.getCourseOutline)
		v1.GET("/posts/:slug", h.getPost)

		auth := v1.Group("")
		auth.Use(AuthMiddleware(h.jwtSecret))
		{
			auth.POST("/checkout", h.createCheckout)
			auth.GET("/payment/detail", h.paymentDetail)
			auth.GET("/orders/my", h.myOrders)
			auth.GET("/enrollments/my", h.myCourses)
			auth.GET("/enrollments/check", h.checkEnrollment)

			admin := auth.Group("")
			admin.Use(RequireRole("admin"))
			{
				admin.POST("/courses", h.createCourse)
				admin.PUT("/courses/:id", h.updateCourse)
				admin.POST("/courses/:id/chapters", h.createChapter)
				admin.PUT("/chapters/:id", h.updateChapter)
				admin.POST("/chapters/:id/lectures", h.createLecture)
				admin.PUT("/lectures/:id", h.updateLecture)
				admin.POST("/posts", h.createPost)
				admin.PUT("/posts/:id", h.updatePost)
			}
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// checkoutRequest accepts a batch of course ids, a single id, or a slug
type checkoutRequest struct {
	CourseIDs  []int64 `json:"courseIds"`
	CourseID   int64   `json:"courseId"`
	CourseSlug string  `json:"courseSlug"`
	OrderInfo  string  `json:"orderInfo"`
	BankCode   string  `json:"bankCode"`
}

// createCheckout creates a processing order and returns the payment URL
func (h *Handler) createCheckout(c *gin.Context) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		apperr.WriteJSON(c, apperr.Unauthorized("thiếu token xác thực"))
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	resp, err := h.checkout.CreateCheckout(c.Request.Context(), principal.UserID,
		service.CourseSelector{
			CourseIDs:  req.CourseIDs,
			CourseID:   req.CourseID,
			CourseSlug: req.CourseSlug,
		}, req.OrderInfo, c.ClientIP())
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// paymentIPN handles the authoritative server-to-server notification.
// VNPay expects HTTP 200 with an {RspCode, Message} body on every delivery.
func (h *Handler) paymentIPN(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusOK, service.IPNAck{RspCode: service.RspUnknownError, Message: "Unknown error"})
		return
	}

	ack := h.reconcile.HandleIPN(c.Request.Context(), c.Request.Form)
	c.JSON(http.StatusOK, ack)
}

// paymentReturn handles the browser redirect back from the payment page
func (h *Handler) paymentReturn(c *gin.Context) {
	result := h.reconcile.HandleReturn(c.Request.Context(), c.Request.URL.Query())
	if result.RedirectURL != "" {
		c.Redirect(http.StatusFound, result.RedirectURL)
		return
	}
	c.JSON(http.StatusOK, result)
}

// paymentVerify re-checks a return payload on behalf of the frontend
func (h *Handler) paymentVerify(c *gin.Context) {
	result := h.reconcile.VerifyReturnTolerant(c.Request.Context(), c.Request.URL.Query())
	c.JSON(http.StatusOK, result)
}

// paymentDetail returns the order summary and purchased courses for a txnRef
func (h *Handler) paymentDetail(c *gin.Context) {
	detail, err := h.checkout.GetPaymentDetail(c.Request.Context(), c.Query("txnRef"))
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// myOrders lists the caller's order history
func (h *Handler) myOrders(c *gin.Context) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		apperr.WriteJSON(c, apperr.Unauthorized("thiếu token xác thực"))
		return
	}

	orders, err := h.checkout.ListMyOrders(c.Request.Context(), principal.UserID)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// myCourses lists the courses the caller is enrolled in
func (h *Handler) myCourses(c *gin.Context) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		apperr.WriteJSON(c, apperr.Unauthorized("thiếu token xác thực"))
		return
	}

	owned, err := h.enrollments.ListMyCourses(c.Request.Context(), principal.UserID)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": owned})
}

// checkEnrollment reports whether the caller owns a course, for gating
// lecture playback on the frontend
func (h *Handler) checkEnrollment(c *gin.Context) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		apperr.WriteJSON(c, apperr.Unauthorized("thiếu token xác thực"))
		return
	}

	courseID, err := strconv.ParseInt(c.Query("courseId"), 10, 64)
	if err != nil {
		apperr.WriteJSON(c, apperr.Validation("courseId không hợp lệ"))
		return
	}

	owned, err := h.enrollments.OwnsCourse(c.Request.Context(), principal.UserID, courseID)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owned": owned})
}

// getCourse serves a course by slug, through the cache when configured
func (h *Handler) getCourse(c *gin.Context) {
	course, err := h.catalog.GetCourseBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

// getCourseOutline serves a course with its chapter list
func (h *Handler) getCourseOutline(c *gin.Context) {
	course, chapters, err := h.catalog.GetCourseOutline(c.Request.Context(), c.Param("slug"))
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course, "chapters": chapters})
}

// getPost serves a blog post by slug
func (h *Handler) getPost(c *gin.Context) {
	post, err := h.catalog.GetPostBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *Handler) createCourse(c *gin.Context) {
	principal, _ := CurrentPrincipal(c)

	var input catalog.CourseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	course, err := h.catalog.CreateCourse(c.Request.Context(), input, principal.UserID)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (h *Handler) updateCourse(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}

	var input catalog.CourseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	course, err := h.catalog.UpdateCourse(c.Request.Context(), id, input)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

// chapterInput carries the client-writable chapter fields
type chapterInput struct {
	ChapterName string `json:"chapter_name" binding:"required"`
	Status      bool   `json:"status"`
}

func (h *Handler) createChapter(c *gin.Context) {
	courseID, err := pathID(c)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}

	var input chapterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	chapter, err := h.catalog.CreateChapter(c.Request.Context(), courseID, input.ChapterName, input.Status)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, chapter)
}

func (h *Handler) updateChapter(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}

	var input chapterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	chapter, err := h.catalog.UpdateChapter(c.Request.Context(), id, input.ChapterName, input.Status)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, chapter)
}

func (h *Handler) createLecture(c *gin.Context) {
	chapterID, err := pathID(c)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}

	var input catalog.LectureInput
	if err := c.ShouldBindJSON(&input); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	lecture, err := h.catalog.CreateLecture(c.Request.Context(), chapterID, input)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, lecture)
}

func (h *Handler) updateLecture(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}

	var input catalog.LectureInput
	if err := c.ShouldBindJSON(&input); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	lecture, err := h.catalog.UpdateLecture(c.Request.Context(), id, input)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, lecture)
}

func (h *Handler) createPost(c *gin.Context) {
	principal, _ := CurrentPrincipal(c)

	var input catalog.PostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	post, err := h.catalog.CreatePost(c.Request.Context(), input, principal.UserID)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *Handler) updatePost(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}

	var input catalog.PostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		apperr.WriteJSON(c, apperr.Validation("dữ liệu không hợp lệ"))
		return
	}

	post, err := h.catalog.UpdatePost(c.Request.Context(), id, input)
	if err != nil {
		apperr.WriteJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, apperr.Validation("id không hợp lệ")
	}
	return id, nil
}
