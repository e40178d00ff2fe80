// Package e2e provides end-to-end tests over a corpus of small websites.
package e2e

import (
	"fmt"
	"sort"

	"github.com/hyperjump/webrag/internal/indexer"
)

// Page is one page of a corpus site.
type Page struct {
	Site    string
	Name    string
	Content string
}

// QueryTestCase is a query against one site and the chunk text that must rank first.
type QueryTestCase struct {
	Site         string
	Query        string
	ExpectedText string
	Description  string
}

// Corpus holds the pages of every site and the query test cases.
type Corpus struct {
	Pages        []Page
	TestCases    []QueryTestCase
	TotalPages   int
	TotalQueries int
}

// site content: every page ends in a sentence that appears nowhere else in the corpus.
var sites = []struct {
	id    string
	pages [][2]string
}{
	{"harbor-bakery", [][2]string{
		{"about", "Harbor Bakery opened in 1998 by the old pier. Our sourdough starter is older than the bakery itself."},
		{"menu", "We bake bread every morning at four. The cardamom buns sell out before nine on Saturdays."},
		{"contact", "Call us to order cakes. Wedding cakes need three weeks of notice."},
		{"jobs", "We are hiring a morning baker. Applicants must be comfortable starting their shift at three."},
	}},
	{"northside-dental", [][2]string{
		{"about", "Northside Dental has served the neighborhood for twenty years. Doctor Alvarez leads a team of four hygienists."},
		{"services", "We offer cleanings and fillings. Invisible aligners are fitted after a free consultation."},
		{"insurance", "Most insurance plans are accepted. Patients without insurance receive a fifteen percent discount."},
		{"hours", "The clinic is open on weekdays. Emergency appointments are available every Saturday morning."},
	}},
	{"summit-cycling", [][2]string{
		{"about", "Summit Cycling Club rides together every week. Membership costs forty dollars per year."},
		{"routes", "Our routes start at the town square. The long Sunday route climbs the ridge road twice."},
		{"safety", "Helmets are required on every ride. Riders must carry a spare tube and a pump."},
		{"events", "The club hosts a charity ride each autumn. Last year the charity ride raised twelve thousand dollars."},
	}},
	{"city-library", [][2]string{
		{"about", "The city library lends books and films. Library cards are free for every resident."},
		{"hours", "The main branch opens at ten. The reading room stays open until midnight during exam weeks."},
		{"services", "We offer printing and study rooms. Study rooms can be booked up to seven days ahead."},
		{"kids", "Story time runs on Wednesday afternoons. Children who read twenty books earn a library tote bag."},
	}},
	{"greenleaf-nursery", [][2]string{
		{"about", "Greenleaf Nursery grows native plants. Every seedling is raised without synthetic pesticides."},
		{"shop", "We sell shrubs and perennials. Fruit trees arrive in the second week of March."},
		{"workshops", "Workshops cover pruning and composting. The composting workshop includes a free worm bin."},
		{"delivery", "Delivery is available within the county. Orders above two hundred dollars ship without charge."},
	}},
	{"riverside-hotel", [][2]string{
		{"about", "Riverside Hotel overlooks the old canal. Each suite has a balcony facing the water."},
		{"dining", "Breakfast is served in the garden room. The rooftop bar mixes a signature elderflower spritz."},
		{"policies", "Check in begins at three in the afternoon. Pets under ten kilograms stay for a small nightly fee."},
		{"events", "The ballroom seats two hundred guests. Conference packages include a projector and unlimited coffee."},
	}},
}

// BuildCorpus returns every page and one query per page: the page's closing sentence.
func BuildCorpus() *Corpus {
	var pages []Page
	var cases []QueryTestCase
	for _, s := range sites {
		for _, p := range s.pages {
			pages = append(pages, Page{Site: s.id, Name: p[0], Content: p[1]})
			sentences := indexer.SplitSentences(p[1])
			last := sentences[len(sentences)-1]
			cases = append(cases, QueryTestCase{
				Site:         s.id,
				Query:        last,
				ExpectedText: last,
				Description:  fmt.Sprintf("%s/%s closing sentence ranks first", s.id, p[0]),
			})
		}
	}
	return &Corpus{
		Pages:        pages,
		TestCases:    cases,
		TotalPages:   len(pages),
		TotalQueries: len(cases),
	}
}

// Sites returns the site ids in order.
func (c *Corpus) Sites() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range c.Pages {
		if !seen[p.Site] {
			seen[p.Site] = true
			ids = append(ids, p.Site)
		}
	}
	sort.Strings(ids)
	return ids
}

// Documents returns the page contents of site, in page order.
func (c *Corpus) Documents(site string) []string {
	var docs []string
	for _, p := range c.Pages {
		if p.Site == site {
			docs = append(docs, p.Content)
		}
	}
	return docs
}

// Sentences returns every sentence of site as the chunker splits it.
func (c *Corpus) Sentences(site string) map[string]bool {
	out := make(map[string]bool)
	for _, d := range c.Documents(site) {
		for _, s := range indexer.SplitSentences(d) {
			out[s] = true
		}
	}
	return out
}
