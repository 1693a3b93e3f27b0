// Package labels holds the class names the two models predict.
package labels

// diseaseLabels is indexed by the disease model's output position.
var diseaseLabels = [...]string{
	"Apple : Apple scab",
	"Apple : Black rot",
	"Apple : Cedar apple rust",
	"Apple : healthy",
	"Blueberry : healthy",
	"Cherry_(including_sour) : Powdery mildew",
	"Cherry_(including_sour) : healthy",
	"Corn_(maize) : Cercospora leaf spot Gray leaf spot",
	"Corn_(maize) : Common rust ",
	"Corn_(maize) : Northern Leaf Blight",
	"Corn_(maize) : healthy",
	"Grape : Black rot",
	"Grape : Esca (Black Measles)",
	"Grape : Leaf blight (Isariopsis Leaf Spot)",
	"Grape : healthy",
	"Orange : Haunglongbing (Citrus greening)",
	"Peach : Bacterial spot",
	"Peach : healthy",
	"Pepper bell : Bacterial spot",
	"Pepper,_bell : healthy",
	"Potato :Early blight",
	"Potato : Late blight",
	"Potato : healthy",
	"Raspberry : healthy",
	"Soybean : healthy",
	"Squash : Powdery mildew",
	"Strawberry : Leaf scorch",
	"Strawberry : healthy",
	"Tomato : Bacterial spot",
	"Tomato : Early blight",
	"Tomato : Late blight",
	"Tomato : Leaf Mold",
	"Tomato : Septoria leaf spot",
	"Tomato : Spider mites Two-spotted spider mite",
	"Tomato : Target Spot",
	"Tomato : Tomato Yellow Leaf Curl Virus",
	"Tomato : Tomato mosaic virus",
	"Tomato : healthy",
}

// DiseaseCount is the number of classes the disease model distinguishes.
const DiseaseCount = len(diseaseLabels)

// Table maps a class index to its label.
type Table interface {
	Label(index int) (string, bool)
	Len() int
}

type diseaseTable struct{}

// Disease returns the fixed table of plant species and condition labels.
func Disease() Table { return diseaseTable{} }

func (diseaseTable) Label(index int) (string, bool) {
	if index < 0 || index >= len(diseaseLabels) {
		return "", false
	}
	return diseaseLabels[index], true
}

func (diseaseTable) Len() int { return len(diseaseLabels) }
