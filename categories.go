package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type CategoryForm struct {
	Name        string `form:"name" json:"name" binding:"required,max=100"`
	Description string `form:"description" json:"description"`
}

func CategoryList(c *gin.Context) {
	categories, err := categoriesWithCounts(DB)
	if err != nil {
		serverError(c, "failed to list categories", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"categories": categories,
		"messages":   pageMessages(c, FlashInfo),
	})
}

func CategoryCreateForm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"form":     CategoryForm{},
		"messages": pageMessages(c, FlashError),
	})
}

func CreateCategory(c *gin.Context) {
	var form CategoryForm
	if err := c.ShouldBind(&form); err != nil {
		formInvalid(c, form, bindingErrors(err)...)
		return
	}

	cat := Category{Name: strings.TrimSpace(form.Name), Description: form.Description}
	if err := DB.Create(&cat).Error; err != nil {
		serverError(c, "could not create category", err)
		return
	}
	redirectWithFlash(c, FlashSuccess, "Category created successfully!", "/category_list/")
}

func loadCategoryOr404(c *gin.Context) (*Category, bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return nil, false
	}
	cat, err := getCategory(DB, id)
	if err != nil {
		if isNotFound(err) {
			jsonError(c, http.StatusNotFound, "category not found")
			return nil, false
		}
		serverError(c, "failed to load category", err)
		return nil, false
	}
	return cat, true
}

func CategoryUpdateForm(c *gin.Context) {
	cat, ok := loadCategoryOr404(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"category": cat,
		"form":     CategoryForm{Name: cat.Name, Description: cat.Description},
		"messages": pageMessages(c, FlashError),
	})
}

func UpdateCategory(c *gin.Context) {
	cat, ok := loadCategoryOr404(c)
	if !ok {
		return
	}

	var form CategoryForm
	if err := c.ShouldBind(&form); err != nil {
		formInvalid(c, form, bindingErrors(err)...)
		return
	}

	cat.Name = strings.TrimSpace(form.Name)
	cat.Description = form.Description
	if err := DB.Save(cat).Error; err != nil {
		serverError(c, "could not update category", err)
		return
	}
	redirectWithFlash(c, FlashSuccess, "Category updated successfully!", "/category_list/")
}

func CategoryDeleteGet(c *gin.Context) {
	redirectWithFlash(c, FlashError, "Something went wrong", "/category_list/")
}

// DeleteCategory removes the category and, with it, its events.
func DeleteCategory(c *gin.Context) {
	cat, ok := loadCategoryOr404(c)
	if !ok {
		return
	}

	images, err := deleteCategory(DB, cat)
	if err != nil {
		serverError(c, "delete failed", err)
		return
	}
	for _, img := range images {
		removeMedia(img)
	}
	redirectWithFlash(c, FlashSuccess, "Category deleted successfully", "/category_list/")
}
