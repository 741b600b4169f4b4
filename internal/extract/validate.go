package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spherical/sweetspot/internal/domain"
)

var (
	skuPattern       = regexp.MustCompile(`^\d{5}$`)
	productIDPattern = regexp.MustCompile(`^\d{1,3}$`)
	eanPattern       = regexp.MustCompile(`^\d{13,14}$`)
	datePattern      = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
)

// textRecord carries the fields checked for document records.
type textRecord struct {
	SKU         string `validate:"sku"`
	ProductID   string `validate:"productid"`
	EAN         string `validate:"omitempty,ean"`
	ExpiryDate  string `validate:"dmydate"`
	Description string `validate:"required"`
}

// visionRecord carries the fields checked for photographed-list records.
type visionRecord struct {
	ExpiryDate  string `validate:"dmydate,dayrange"`
	Description string `validate:"required"`
}

// RecordValidator applies the acceptance rules for extracted records.
type RecordValidator struct {
	v *validator.Validate
}

// NewRecordValidator registers the record rules on a fresh validator.
func NewRecordValidator() *RecordValidator {
	v := validator.New()
	mustRegister(v, "sku", matches(skuPattern))
	mustRegister(v, "productid", matches(productIDPattern))
	mustRegister(v, "ean", matches(eanPattern))
	mustRegister(v, "dmydate", matches(datePattern))
	mustRegister(v, "dayrange", func(fl validator.FieldLevel) bool {
		return validDayMonth(fl.Field().String())
	})
	return &RecordValidator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

func validDayMonth(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return day >= 1 && day <= 31 && month >= 1 && month <= 12
}

// ValidateText reports whether a document record is acceptable.
func (rv *RecordValidator) ValidateText(rec domain.ProductRecord) error {
	err := rv.v.Struct(textRecord{
		SKU:         rec.SKU,
		ProductID:   rec.ProductID,
		EAN:         rec.EANSerialNo,
		ExpiryDate:  rec.ExpiryDate,
		Description: rec.ArticleDescriptionBatch,
	})
	if err != nil {
		return domain.ValidationError("record rejected", err)
	}
	return nil
}

// ValidateVision reports whether a photographed-list record is acceptable.
func (rv *RecordValidator) ValidateVision(rec domain.ProductRecord) error {
	err := rv.v.Struct(visionRecord{
		ExpiryDate:  rec.ExpiryDate,
		Description: rec.ArticleDescriptionBatch,
	})
	if err != nil {
		return domain.ValidationError("record rejected", err)
	}
	return nil
}
