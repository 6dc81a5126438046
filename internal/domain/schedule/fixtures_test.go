package schedule

func session(days, start, end string) SessionSpec {
	return SessionSpec{Days: days, StartTime: start, EndTime: end, Room: "R1"}
}

func section(course, label, capacity string, sessions ...SessionSpec) Section {
	return MustSection(SectionSpec{
		Course:   course,
		Label:    label,
		Capacity: capacity,
		Sessions: sessions,
	})
}

// threeCourseCatalog is a small catalog with one full section (CSE101-2) and
// a Friday-only section (MAT101-2).
func threeCourseCatalog() []Course {
	return []Course{
		{Code: "CSE101", Sections: []Section{
			section("CSE101", "1", "10/35", session("MW", "08:30 AM", "10:00 AM")),
			section("CSE101", "2", "35/35", session("TR", "08:30 AM", "10:00 AM")),
		}},
		{Code: "MAT101", Sections: []Section{
			section("MAT101", "1", "5/40", session("MW", "10:10 AM", "11:40 AM")),
			section("MAT101", "2", "5/40", session("F", "08:30 AM", "10:00 AM")),
			section("MAT101", "3", "5/40", session("MW", "09:00 AM", "10:30 AM")),
		}},
		{Code: "ENG101", Sections: []Section{
			section("ENG101", "1", "0/30", session("TR", "10:10 AM", "11:40 AM")),
			section("ENG101", "2", "0/30", session("MW", "08:00 AM", "09:00 AM")),
			section("ENG101", "3", "0/30", session("S", "01:00 PM", "02:30 PM")),
			section("ENG101", "4", "0/0", session("A", "01:00 PM", "02:30 PM")),
		}},
	}
}
